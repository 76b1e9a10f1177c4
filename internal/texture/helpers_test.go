package texture

import (
	"errors"
	"sync"
	"testing"
	"time"

	"texcache/internal/logging"
)

type request struct {
	id        SourceID
	deliver   DeliverFunc
	cancelled bool
}

// fakeBackend hands out loaders and records every request they start.
type fakeBackend struct {
	mu       sync.Mutex
	requests []*request
	startErr error
}

func (b *fakeBackend) loader() Loader {
	return LoaderFunc(func(id SourceID, deliver DeliverFunc) (CancelFunc, error) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.startErr != nil {
			return nil, b.startErr
		}
		req := &request{id: id, deliver: deliver}
		b.requests = append(b.requests, req)
		return func() {
			b.mu.Lock()
			req.cancelled = true
			b.mu.Unlock()
		}, nil
	})
}

func (b *fakeBackend) newLoader() func() Loader {
	return b.loader
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func (b *fakeBackend) last() *request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1]
}

func rgba(w, h int) *Image {
	return &Image{Width: w, Height: h, Pixels: make([]byte, w*h*4)}
}

type event struct {
	kind string
	src  SourceID
	err  error
}

type recordingHolder struct {
	events []event
}

func (h *recordingHolder) OnTextureSourceLoaded(src *Source) {
	h.events = append(h.events, event{kind: "loaded", src: src.ID()})
}

func (h *recordingHolder) OnTextureSourceLoadError(src *Source, err error) {
	h.events = append(h.events, event{kind: "error", src: src.ID(), err: err})
}

func (h *recordingHolder) OnTextureSourceAddedToAtlas(src *Source, x, y int) {
	h.events = append(h.events, event{kind: "atlas_added", src: src.ID()})
}

func (h *recordingHolder) OnTextureSourceRemovedFromAtlas(src *Source) {
	h.events = append(h.events, event{kind: "atlas_removed", src: src.ID()})
}

func (h *recordingHolder) kinds() []string {
	out := make([]string, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.kind)
	}
	return out
}

type fakeUploader struct {
	uploaded []SourceID
	released []SourceID
	fail     error
	clock    *fakeClock
	cost     time.Duration
}

func (u *fakeUploader) Upload(src *Source, img *Image) error {
	if u.clock != nil {
		u.clock.Advance(u.cost)
	}
	if u.fail != nil {
		return u.fail
	}
	u.uploaded = append(u.uploaded, src.ID())
	return nil
}

func (u *fakeUploader) Release(src *Source) {
	u.released = append(u.released, src.ID())
}

type fakeAtlas struct {
	removed []SourceID
}

func (a *fakeAtlas) Remove(src *Source) {
	a.removed = append(a.removed, src.ID())
	src.RemovedFromAtlas()
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	mgr      *Manager
	driver   *Driver
	backend  *fakeBackend
	uploader *fakeUploader
	atlas    *fakeAtlas
	clock    *fakeClock
}

func newHarness(t *testing.T, budget int64) *harness {
	t.Helper()
	clock := newFakeClock()
	h := &harness{
		backend:  &fakeBackend{},
		uploader: &fakeUploader{},
		atlas:    &fakeAtlas{},
		clock:    clock,
	}
	h.mgr = NewManager(Options{
		MemoryBudgetBytes: budget,
		GraceFrames:       DefaultGraceFrames,
		Uploader:          h.uploader,
		Atlas:             h.atlas,
		Logger:            logging.NewNop(),
		Now:               clock.Now,
	})
	h.driver = NewDriver(h.mgr, logging.NewNop())
	return h
}

// loadHeld creates a held source and completes its decode with a w x h image.
func (h *harness) loadHeld(t *testing.T, key string, w, hgt int, holder Holder) *Source {
	t.Helper()
	src := h.mgr.GetOrCreate(key, h.backend.newLoader())
	src.AddHolder(holder)
	h.backend.last().deliver(rgba(w, hgt), nil)
	return src
}

var errBoom = errors.New("boom")
