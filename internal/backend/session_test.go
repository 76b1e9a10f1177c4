package backend

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"texcache/internal/decoder"
	"texcache/internal/logging"
	"texcache/internal/protocol"
	"texcache/internal/store"
)

type fakeFetcher struct {
	mu      sync.Mutex
	assets  map[string][]byte
	calls   map[string]int
	release chan struct{}
	total   atomic.Int32
}

func newFakeFetcher(assets map[string][]byte) *fakeFetcher {
	return &fakeFetcher{assets: assets, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	f.mu.Lock()
	f.calls[locator]++
	release := f.release
	f.mu.Unlock()
	f.total.Add(1)
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	data, ok := f.assets[locator]
	if !ok {
		return nil, errors.New("not found: " + locator)
	}
	return data, nil
}

func (f *fakeFetcher) count(locator string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[locator]
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

type collector struct {
	mu    sync.Mutex
	resps []protocol.Response
	ch    chan protocol.Response
}

func newCollector() *collector {
	return &collector{ch: make(chan protocol.Response, 16)}
}

func (c *collector) emit(resp protocol.Response) error {
	c.mu.Lock()
	c.resps = append(c.resps, resp)
	c.mu.Unlock()
	c.ch <- resp
	return nil
}

func (c *collector) next(t *testing.T) protocol.Response {
	t.Helper()
	select {
	case resp := <-c.ch:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("no response")
		return nil
	}
}

func (c *collector) all() []protocol.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Response(nil), c.resps...)
}

func newTestService(t *testing.T, fetcher Fetcher, st *store.Store) *Service {
	t.Helper()
	svc := NewService(Options{Concurrency: 2, Fetcher: fetcher, Store: st, Logger: logging.NewNop()})
	t.Cleanup(svc.Close)
	return svc
}

func TestSessionDecodesWithBaseURL(t *testing.T) {
	fetcher := newFakeFetcher(map[string][]byte{"http://cdn/a.png": pngBytes(t, 3, 2)})
	svc := newTestService(t, fetcher, nil)
	out := newCollector()
	sess := svc.NewSession("s1", out.emit)
	defer sess.Close()

	sess.Handle(protocol.Hello{BaseURL: "http://cdn/"})
	sess.Handle(protocol.Decode{ID: 4, Kind: protocol.KindImage, Data: "a.png"})

	resp := out.next(t)
	s, ok := resp.(protocol.Success)
	require.True(t, ok, "got %#v", resp)
	assert.Equal(t, protocol.RequestID(4), s.ID)
	assert.Equal(t, 3, s.Width)
	assert.Equal(t, 2, s.Height)
	assert.Len(t, s.Pixels, 3*2*4)
	assert.Equal(t, "http://cdn/a.png", s.RenderInfo["src"])
	assert.Zero(t, sess.InFlight())
}

func TestSessionAbsoluteLocatorIgnoresBase(t *testing.T) {
	fetcher := newFakeFetcher(map[string][]byte{"file:///x/b.png": pngBytes(t, 1, 1)})
	svc := newTestService(t, fetcher, nil)
	out := newCollector()
	sess := svc.NewSession("", out.emit)
	defer sess.Close()

	sess.Handle(protocol.Hello{BaseURL: "http://cdn/"})
	sess.Handle(protocol.Decode{ID: 1, Data: "file:///x/b.png"})
	_, ok := out.next(t).(protocol.Success)
	assert.True(t, ok)
}

func TestSessionReportsFailures(t *testing.T) {
	fetcher := newFakeFetcher(map[string][]byte{"bad.bin": []byte("nope")})
	svc := newTestService(t, fetcher, nil)
	out := newCollector()
	sess := svc.NewSession("", out.emit)
	defer sess.Close()

	sess.Handle(protocol.Decode{ID: 1, Data: "bad.bin"})
	f, ok := out.next(t).(protocol.Failure)
	require.True(t, ok)
	assert.Contains(t, f.Err, "unknown image format")

	sess.Handle(protocol.Decode{ID: 2, Data: "missing.png"})
	f, ok = out.next(t).(protocol.Failure)
	require.True(t, ok)
	assert.Equal(t, protocol.RequestID(2), f.ID)
	assert.Contains(t, f.Err, "not found")
}

func TestSessionRejectsUnsupportedKind(t *testing.T) {
	fetcher := newFakeFetcher(nil)
	svc := newTestService(t, fetcher, nil)
	out := newCollector()
	sess := svc.NewSession("", out.emit)
	defer sess.Close()

	sess.Handle(protocol.Decode{ID: 9, Kind: protocol.KindText, Data: "hello"})
	assert.Equal(t, protocol.Failure{ID: 9, Err: protocol.NotSupported(protocol.KindText)}, out.next(t))
	assert.Zero(t, fetcher.total.Load())
}

func TestCancelSuppressesResult(t *testing.T) {
	fetcher := newFakeFetcher(map[string][]byte{"a.png": pngBytes(t, 1, 1), "b.png": pngBytes(t, 1, 1)})
	fetcher.release = make(chan struct{})
	svc := newTestService(t, fetcher, nil)
	out := newCollector()
	sess := svc.NewSession("", out.emit)

	sess.Handle(protocol.Decode{ID: 1, Data: "a.png"})
	sess.Handle(protocol.Decode{ID: 2, Data: "b.png"})
	require.Eventually(t, func() bool { return fetcher.total.Load() == 2 }, 5*time.Second, time.Millisecond)

	sess.Handle(protocol.Cancel{ID: 1})
	sess.Handle(protocol.Cancel{ID: 1})
	sess.Handle(protocol.Cancel{ID: 77})
	assert.Equal(t, 1, sess.InFlight())

	close(fetcher.release)
	resp := out.next(t)
	assert.Equal(t, protocol.RequestID(2), resp.RequestID())

	sess.Close()
	for _, r := range out.all() {
		assert.NotEqual(t, protocol.RequestID(1), r.RequestID())
	}
}

func TestCloseCancelsInFlight(t *testing.T) {
	fetcher := newFakeFetcher(map[string][]byte{"a.png": pngBytes(t, 1, 1)})
	fetcher.release = make(chan struct{})
	svc := newTestService(t, fetcher, nil)
	out := newCollector()
	sess := svc.NewSession("", out.emit)

	sess.Handle(protocol.Decode{ID: 1, Data: "a.png"})
	require.Eventually(t, func() bool { return fetcher.total.Load() == 1 }, 5*time.Second, time.Millisecond)
	sess.Close()
	close(fetcher.release)

	sess.Handle(protocol.Decode{ID: 2, Data: "a.png"})
	assert.Empty(t, out.all())
	assert.Zero(t, sess.InFlight())
}

func TestConcurrentIdenticalDecodesShareOneFetch(t *testing.T) {
	fetcher := newFakeFetcher(map[string][]byte{"a.png": pngBytes(t, 2, 2)})
	fetcher.release = make(chan struct{})
	svc := newTestService(t, fetcher, nil)
	out := newCollector()
	sessA := svc.NewSession("a", out.emit)
	sessB := svc.NewSession("b", out.emit)
	defer sessA.Close()
	defer sessB.Close()

	sessA.Handle(protocol.Decode{ID: 1, Data: "a.png"})
	require.Eventually(t, func() bool { return fetcher.total.Load() == 1 }, 5*time.Second, time.Millisecond)
	sessB.Handle(protocol.Decode{ID: 1, Data: "a.png"})
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)

	out.next(t)
	out.next(t)
	assert.Equal(t, 1, fetcher.count("a.png"))
}

func TestServiceUsesStore(t *testing.T) {
	st, err := store.Open(t.TempDir()+"/decoded.db", 0, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fetcher := newFakeFetcher(map[string][]byte{"a.png": pngBytes(t, 2, 2)})
	svc := newTestService(t, fetcher, st)

	first, err := svc.Decode(t.Context(), "a.png")
	require.NoError(t, err)
	second, err := svc.Decode(t.Context(), "a.png")
	require.NoError(t, err)

	assert.Equal(t, 1, fetcher.count("a.png"))
	assert.Equal(t, first.Pix, second.Pix)
	assert.Equal(t, true, second.RenderInfo["cached"])
}

func TestServiceMaxDimension(t *testing.T) {
	fetcher := newFakeFetcher(map[string][]byte{"big.png": pngBytes(t, 100, 1)})
	svc := NewService(Options{MaxDimension: 64, Fetcher: fetcher, Logger: logging.NewNop()})
	defer svc.Close()

	_, err := svc.Decode(t.Context(), "big.png")
	assert.ErrorIs(t, err, decoder.ErrTooLarge)
}
