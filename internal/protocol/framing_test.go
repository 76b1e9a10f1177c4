package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramedSessionOverPipe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	pixels := bytes.Repeat([]byte{10, 20, 30, 255}, 4)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r := NewFrameReader(server)
		w := NewFrameWriter(server)
		for i := 0; i < 2; i++ {
			req, err := r.ReadRequest()
			if err != nil {
				return
			}
			if d, ok := req.(Decode); ok {
				_ = w.WriteResponse(Success{ID: d.ID, Width: 2, Height: 2, Pixels: pixels})
			}
		}
		_ = w.WriteResponse(Failure{ID: 99, Err: "late"})
	}()

	w := NewFrameWriter(client)
	r := NewFrameReader(client)
	require.NoError(t, w.WriteRequest(Hello{BaseURL: "file:///assets/"}))
	require.NoError(t, w.WriteRequest(Decode{ID: 5, Data: "a.png"}))

	resp, err := r.ReadResponse()
	require.NoError(t, err)
	s, ok := resp.(Success)
	require.True(t, ok)
	assert.Equal(t, RequestID(5), s.ID)
	assert.Equal(t, pixels, s.Pixels)

	resp, err = r.ReadResponse()
	require.NoError(t, err)
	assert.Equal(t, Failure{ID: 99, Err: "late"}, resp)
	wg.Wait()
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:4], MaxFrameSize+1)
	header[4] = byte(FrameJSON)
	buf.Write(header[:])

	_, _, err := NewFrameReader(&buf).ReadFrame()
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameRejectsUnknownType(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0, 7})
	_, _, err := NewFrameReader(buf).ReadFrame()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadResponseRequiresPixelFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	meta, err := MarshalResponse(Success{ID: 1, Width: 1, Height: 1})
	require.NoError(t, err)
	w.mu.Lock()
	require.NoError(t, w.writeFrame(FrameJSON, meta))
	require.NoError(t, w.writeFrame(FrameJSON, meta))
	require.NoError(t, w.w.Flush())
	w.mu.Unlock()

	_, err = NewFrameReader(&buf).ReadResponse()
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestTruncatedFrameIsUnexpectedEOF(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 10, byte(FrameJSON), '{'})
	_, _, err := NewFrameReader(buf).ReadFrame()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
