package server

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"texcache/internal/config"
	"texcache/internal/logging"
	"texcache/internal/protocol"
	"texcache/internal/transport"
)

// gatedAssets serves PNGs; slow.png blocks until release is called.
type gatedAssets struct {
	srv     *httptest.Server
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGatedAssets(t *testing.T) *gatedAssets {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 2, 2))))
	body := buf.Bytes()

	a := &gatedAssets{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow.png" {
			select {
			case a.entered <- struct{}{}:
			default:
			}
			select {
			case <-a.gate:
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	t.Cleanup(a.srv.Close)
	t.Cleanup(a.release)
	return a
}

func (a *gatedAssets) release() { a.once.Do(func() { close(a.gate) }) }

func receiveAll(link transport.Link) <-chan protocol.Response {
	out := make(chan protocol.Response, 8)
	go func() {
		defer close(out)
		for {
			resp, err := link.Receive()
			if err != nil {
				return
			}
			out <- resp
		}
	}()
	return out
}

func nextResponse(t *testing.T, responses <-chan protocol.Response) protocol.Response {
	t.Helper()
	select {
	case resp, ok := <-responses:
		require.True(t, ok, "link closed")
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("no response")
		return nil
	}
}

// checkSessionContract runs the same cancel and unsupported-kind exchange on
// any link to a decode server.
func checkSessionContract(t *testing.T, link transport.Link) {
	t.Helper()
	assets := newGatedAssets(t)
	t.Cleanup(func() { _ = link.Close() })
	responses := receiveAll(link)

	require.NoError(t, link.Send(protocol.Hello{BaseURL: assets.srv.URL + "/"}))
	require.NoError(t, link.Send(protocol.Decode{ID: 1, Kind: protocol.KindImage, Data: "slow.png"}))
	select {
	case <-assets.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("slow asset never requested")
	}
	require.NoError(t, link.Send(protocol.Cancel{ID: 1}))

	require.NoError(t, link.Send(protocol.Decode{ID: 2, Kind: protocol.KindText, Data: "hello"}))
	failure, ok := nextResponse(t, responses).(protocol.Failure)
	require.True(t, ok, "text decode must fail")
	assert.Equal(t, protocol.RequestID(2), failure.ID)
	assert.True(t, protocol.IsNotSupported(failure.Err), failure.Err)

	// The cancelled decode can now finish; its result must not be sent.
	assets.release()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, link.Send(protocol.Decode{ID: 3, Kind: protocol.KindImage, Data: "fast.png"}))
	success, ok := nextResponse(t, responses).(protocol.Success)
	require.True(t, ok, "fast decode must succeed")
	assert.Equal(t, protocol.RequestID(3), success.ID)
	assert.Equal(t, 2, success.Width)

	select {
	case resp, ok := <-responses:
		if ok {
			t.Fatalf("unexpected response after cancel: %#v", resp)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStreamServerSessionContract(t *testing.T) {
	srv, err := NewStreamServer(context.Background(), config.Listen{Host: "127.0.0.1", Port: 0}, newService(t), logging.NewNop())
	require.NoError(t, err)
	srv.Serve()
	t.Cleanup(srv.Close)

	link, err := transport.DialStream(context.Background(), "tcp", srv.Addr().String())
	require.NoError(t, err)
	checkSessionContract(t, link)
}

func TestWebSocketServerSessionContract(t *testing.T) {
	srv := startWebSocket(t)

	link, err := transport.DialWebSocket(context.Background(), srv.URL(), "")
	require.NoError(t, err)
	checkSessionContract(t, link)
}
