package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// FrameType tags a stream frame payload.
type FrameType byte

const (
	// FrameJSON carries one JSON message.
	FrameJSON FrameType = 1
	// FrameBinary carries the pixels that follow a Success metadata frame.
	FrameBinary FrameType = 2
)

// MaxFrameSize bounds a single frame payload. A 4096x4096 RGBA image is 64 MiB.
const MaxFrameSize = 64 << 20

const frameHeaderSize = 5

// ErrFrameTooLarge is returned for frames above MaxFrameSize.
var ErrFrameTooLarge = errors.New("protocol: frame too large")

// FrameWriter writes length-prefixed frames: a 4-byte big-endian payload
// length, a 1-byte FrameType, then the payload. It is safe for concurrent use;
// a Success metadata frame and its pixel frame are written under one lock so
// responses for different ids never interleave.
type FrameWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: bufio.NewWriter(w)}
}

// WriteRequest encodes and writes one request frame.
func (fw *FrameWriter) WriteRequest(req Request) error {
	payload, err := MarshalRequest(req)
	if err != nil {
		return err
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.writeFrame(FrameJSON, payload); err != nil {
		return err
	}
	return fw.w.Flush()
}

// WriteResponse writes a response metadata frame and, for a Success, the
// pixel frame right after it.
func (fw *FrameWriter) WriteResponse(resp Response) error {
	payload, err := MarshalResponse(resp)
	if err != nil {
		return err
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.writeFrame(FrameJSON, payload); err != nil {
		return err
	}
	if s, ok := resp.(Success); ok {
		if err := fw.writeFrame(FrameBinary, s.Pixels); err != nil {
			return err
		}
	}
	return fw.w.Flush()
}

func (fw *FrameWriter) writeFrame(t FrameType, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)))
	header[4] = byte(t)
	if _, err := fw.w.Write(header[:]); err != nil {
		return err
	}
	_, err := fw.w.Write(payload)
	return err
}

// FrameReader reads frames written by FrameWriter. It is not safe for
// concurrent use; each connection has a single reader goroutine.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// ReadFrame reads one raw frame.
func (fr *FrameReader) ReadFrame() (FrameType, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(header[:4])
	if size > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	t := FrameType(header[4])
	if t != FrameJSON && t != FrameBinary {
		return 0, nil, fmt.Errorf("%w: frame type %d", ErrMalformed, t)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return t, payload, nil
}

// ReadRequest reads the next request frame.
func (fr *FrameReader) ReadRequest() (Request, error) {
	t, payload, err := fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	if t != FrameJSON {
		return nil, fmt.Errorf("%w: unexpected binary frame", ErrMalformed)
	}
	return UnmarshalRequest(payload)
}

// ReadResponse reads the next response, including the pixel frame that
// follows a Success.
func (fr *FrameReader) ReadResponse() (Response, error) {
	t, payload, err := fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	if t != FrameJSON {
		return nil, fmt.Errorf("%w: binary frame without metadata", ErrMalformed)
	}
	resp, err := UnmarshalResponse(payload)
	if err != nil {
		return nil, err
	}
	s, ok := resp.(Success)
	if !ok {
		return resp, nil
	}
	t, pixels, err := fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	if t != FrameBinary {
		return nil, fmt.Errorf("%w: expected pixel frame for id %d", ErrMalformed, s.ID)
	}
	return AttachPixels(s, pixels)
}
