package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed reports a frame that does not match any message shape.
var ErrMalformed = errors.New("protocol: malformed message")

// envelope is the union of every JSON field used on the wire.
type envelope struct {
	BaseURL    *string        `json:"baseUrl,omitempty"`
	ID         *RequestID     `json:"id,omitempty"`
	Type       *DecodeKind    `json:"type,omitempty"`
	Data       *string        `json:"data,omitempty"`
	Cancel     bool           `json:"cancel,omitempty"`
	Meta       bool           `json:"m,omitempty"`
	Width      int            `json:"w,omitempty"`
	Height     int            `json:"h,omitempty"`
	RenderInfo map[string]any `json:"renderInfo,omitempty"`
	Err        *string        `json:"err,omitempty"`
}

// MarshalRequest encodes a request into its JSON wire shape.
func MarshalRequest(req Request) ([]byte, error) {
	var env envelope
	switch r := req.(type) {
	case Hello:
		env.BaseURL = &r.BaseURL
	case Decode:
		id, kind, data := r.ID, r.Kind, r.Data
		env.ID, env.Type, env.Data = &id, &kind, &data
	case Cancel:
		id := r.ID
		env.ID = &id
		env.Cancel = true
	default:
		return nil, fmt.Errorf("%w: unknown request %T", ErrMalformed, req)
	}
	return json.Marshal(env)
}

// UnmarshalRequest decodes a JSON request frame.
func UnmarshalRequest(data []byte) (Request, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case env.BaseURL != nil:
		return Hello{BaseURL: *env.BaseURL}, nil
	case env.Cancel:
		if env.ID == nil {
			return nil, fmt.Errorf("%w: cancel without id", ErrMalformed)
		}
		return Cancel{ID: *env.ID}, nil
	case env.Data != nil:
		if env.ID == nil {
			return nil, fmt.Errorf("%w: decode without id", ErrMalformed)
		}
		kind := KindImage
		if env.Type != nil {
			kind = *env.Type
		}
		return Decode{ID: *env.ID, Kind: kind, Data: *env.Data}, nil
	default:
		return nil, fmt.Errorf("%w: no request fields", ErrMalformed)
	}
}

// MarshalResponse encodes the metadata frame of a response. The pixels of a
// Success are not included and must be sent as a separate binary frame.
func MarshalResponse(resp Response) ([]byte, error) {
	var env envelope
	switch r := resp.(type) {
	case Success:
		id := r.ID
		env.ID = &id
		env.Meta = true
		env.Width, env.Height = r.Width, r.Height
		env.RenderInfo = r.RenderInfo
	case Failure:
		id, msg := r.ID, r.Err
		if msg == "" {
			msg = "unknown error"
		}
		env.ID, env.Err = &id, &msg
	default:
		return nil, fmt.Errorf("%w: unknown response %T", ErrMalformed, resp)
	}
	return json.Marshal(env)
}

// UnmarshalResponse decodes a response metadata frame. A returned Success has
// no Pixels yet; the caller reads them from the next binary frame.
func UnmarshalResponse(data []byte) (Response, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.ID == nil {
		return nil, fmt.Errorf("%w: response without id", ErrMalformed)
	}
	switch {
	case env.Err != nil:
		return Failure{ID: *env.ID, Err: *env.Err}, nil
	case env.Meta:
		if env.Width < 0 || env.Height < 0 {
			return nil, fmt.Errorf("%w: negative dimensions", ErrMalformed)
		}
		return Success{ID: *env.ID, Width: env.Width, Height: env.Height, RenderInfo: env.RenderInfo}, nil
	default:
		return nil, fmt.Errorf("%w: no response fields", ErrMalformed)
	}
}

// AttachPixels validates and attaches the binary frame that follows a Success
// metadata frame.
func AttachPixels(s Success, pixels []byte) (Success, error) {
	if len(pixels) != s.PixelLen() {
		return s, fmt.Errorf("%w: pixel frame for id %d has %d bytes, want %d",
			ErrMalformed, s.ID, len(pixels), s.PixelLen())
	}
	s.Pixels = pixels
	return s, nil
}
