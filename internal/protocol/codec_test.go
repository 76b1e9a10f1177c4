package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestWireShapes(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"hello", Hello{BaseURL: "http://assets/"}, `{"baseUrl":"http://assets/"}`},
		{"hello empty base", Hello{}, `{"baseUrl":""}`},
		{"decode", Decode{ID: 7, Kind: KindImage, Data: "a.jpg"}, `{"id":7,"type":0,"data":"a.jpg"}`},
		{"cancel", Cancel{ID: 7}, `{"id":7,"cancel":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := MarshalRequest(tt.req)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))

			back, err := UnmarshalRequest(data)
			require.NoError(t, err)
			assert.Equal(t, tt.req, back)
		})
	}
}

func TestResponseMetadataNeverCarriesPixels(t *testing.T) {
	data, err := MarshalResponse(Success{
		ID: 3, Width: 2, Height: 1,
		RenderInfo: map[string]any{"src": "a.png"},
		Pixels:     []byte{1, 2, 3, 4, 5, 6, 7, 8},
	})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, map[string]any{
		"id": 3.0, "m": true, "w": 2.0, "h": 1.0,
		"renderInfo": map[string]any{"src": "a.png"},
	}, fields)

	resp, err := UnmarshalResponse(data)
	require.NoError(t, err)
	s, ok := resp.(Success)
	require.True(t, ok)
	assert.Nil(t, s.Pixels)
	assert.Equal(t, 8, s.PixelLen())
}

func TestFailureWireShape(t *testing.T) {
	data, err := MarshalResponse(Failure{ID: 9, Err: "boom"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":9,"err":"boom"}`, string(data))

	empty, err := MarshalResponse(Failure{ID: 9})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":9,"err":"unknown error"}`, string(empty))
}

func TestDecodeDefaultsToImageKind(t *testing.T) {
	req, err := UnmarshalRequest([]byte(`{"id":1,"data":"x.png"}`))
	require.NoError(t, err)
	assert.Equal(t, Decode{ID: 1, Kind: KindImage, Data: "x.png"}, req)
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	for _, raw := range []string{`{}`, `{"cancel":true}`, `{"data":"x"}`, `not json`} {
		_, err := UnmarshalRequest([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
	for _, raw := range []string{`{"m":true}`, `{"id":1}`, `{"id":1,"m":true,"w":-1,"h":1}`} {
		_, err := UnmarshalResponse([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestAttachPixelsChecksLength(t *testing.T) {
	_, err := AttachPixels(Success{ID: 1, Width: 2, Height: 2}, make([]byte, 15))
	assert.ErrorIs(t, err, ErrMalformed)

	s, err := AttachPixels(Success{ID: 1, Width: 2, Height: 2}, make([]byte, 16))
	require.NoError(t, err)
	assert.Len(t, s.Pixels, 16)
}

func TestNotSupportedMentionsKind(t *testing.T) {
	assert.Equal(t, "decode kind text not supported", NotSupported(KindText))
	assert.Equal(t, "kind(9)", DecodeKind(9).String())
}

func TestIsNotSupported(t *testing.T) {
	assert.True(t, IsNotSupported(NotSupported(KindText)))
	assert.True(t, IsNotSupported(NotSupported(DecodeKind(5))))
	assert.False(t, IsNotSupported("decode a.png: unknown image format"))
}
