package protocol

import (
	"fmt"
	"strings"
)

// RequestID is assigned by the caller, typically the texture source id.
type RequestID int64

// DecodeKind selects what a Decode request asks for.
type DecodeKind int

const (
	// KindImage decodes an image addressed by a string locator.
	KindImage DecodeKind = 0
	// KindText is reserved for text rasterization. Offload backends answer it
	// with a not-supported Failure.
	KindText DecodeKind = 1
)

func (k DecodeKind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Request is one of Hello, Decode, or Cancel.
type Request interface {
	isRequest()
}

// Hello is sent once per session before any Decode.
type Hello struct {
	BaseURL string
}

// Decode asks the backend to fetch and decode Data.
type Decode struct {
	ID   RequestID
	Kind DecodeKind
	Data string
}

// Cancel withdraws an in-flight Decode. Cancelling an unknown id is a no-op.
type Cancel struct {
	ID RequestID
}

func (Hello) isRequest()  {}
func (Decode) isRequest() {}
func (Cancel) isRequest() {}

// Response is one of Success or Failure.
type Response interface {
	RequestID() RequestID
	isResponse()
}

// Success carries a decoded RGBA image (4 bytes per pixel, straight alpha).
type Success struct {
	ID         RequestID
	Width      int
	Height     int
	RenderInfo map[string]any
	Pixels     []byte
}

// Failure reports why a Decode could not be answered.
type Failure struct {
	ID  RequestID
	Err string
}

func (s Success) RequestID() RequestID { return s.ID }
func (f Failure) RequestID() RequestID { return f.ID }

func (Success) isResponse() {}
func (Failure) isResponse() {}

// PixelLen is the byte length the pixel frame of s must have.
func (s Success) PixelLen() int {
	return s.Width * s.Height * 4
}

// NotSupported is the error text sent for decode kinds a backend cannot serve.
func NotSupported(kind DecodeKind) string {
	return fmt.Sprintf("decode kind %s not supported", kind)
}

// IsNotSupported reports whether msg was produced by NotSupported.
func IsNotSupported(msg string) bool {
	return strings.HasPrefix(msg, "decode kind ") && strings.HasSuffix(msg, " not supported")
}
