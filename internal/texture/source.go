package texture

import (
	"fmt"
	"time"

	"texcache/internal/logging"
)

// State is the load state of a Source.
type State int

const (
	Unloaded State = iota
	Loading
	Loaded
	Error
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source is one cacheable decoded image. Sources are created by
// Manager.GetOrCreate and must only be touched on the frame goroutine.
type Source struct {
	id       SourceID
	lookupID string
	mgr      *Manager
	loader   Loader

	state     State
	permanent bool
	holders   map[Holder]struct{}

	// token identifies the outstanding request; completions carrying any
	// other token are stale and dropped.
	token        uint64
	cancel       CancelFunc
	loadingSince time.Time
	loadedFrame  uint64
	err          error

	width    int
	height   int
	byteSize int64
	counted  bool
	pending  bool
	uploaded bool
	indexed  bool

	inAtlas bool
	atlasX  int
	atlasY  int
}

func (s *Source) ID() SourceID { return s.id }

func (s *Source) LookupID() string { return s.lookupID }

func (s *Source) State() State { return s.state }

func (s *Source) Permanent() bool { return s.permanent }

func (s *Source) Width() int { return s.width }

func (s *Source) Height() int { return s.height }

// ByteSize is width*height*4 once loaded, zero otherwise.
func (s *Source) ByteSize() int64 { return s.byteSize }

func (s *Source) HolderCount() int { return len(s.holders) }

// Err returns the error of the last failed load.
func (s *Source) Err() error { return s.err }

// Uploaded reports whether the pixels reached the GPU.
func (s *Source) Uploaded() bool { return s.uploaded }

// LoadingSince is the start of the outstanding request, zero when idle.
func (s *Source) LoadingSince() time.Time { return s.loadingSince }

// SetPermanent exempts the source from eviction.
func (s *Source) SetPermanent(permanent bool) {
	s.permanent = permanent
	if permanent {
		s.mgr.addToIndex(s)
	}
}

// Evictable reports whether the cache sweep may free the source.
func (s *Source) Evictable() bool {
	return len(s.holders) == 0 && !s.permanent
}

// Load requests a decode. While already loading it is a no-op unless sync is
// set, in which case the outstanding request is cancelled and a new one is
// issued. Loaded sources stay loaded until Reset.
func (s *Source) Load(sync bool) {
	switch s.state {
	case Loading:
		if !sync {
			return
		}
		s.abort()
	case Loaded:
		return
	}
	s.start()
}

func (s *Source) start() {
	s.token++
	token := s.token
	s.state = Loading
	s.err = nil
	s.loadingSince = s.mgr.now()
	s.mgr.stats.LoadsStarted++

	cancel, err := s.loader.Start(s.id, func(img *Image, err error) {
		s.mgr.Post(Completion{Source: s, token: token, Image: img, Err: err})
	})
	if err != nil {
		s.token++
		s.fail(Wrap(ErrTransport, "start decode", err))
		return
	}
	s.cancel = cancel
}

// abort cancels the outstanding request. Its completion can never be applied
// afterwards because the token moves on.
func (s *Source) abort() {
	s.token++
	if s.cancel != nil {
		cancel := s.cancel
		s.cancel = nil
		cancel()
		s.mgr.stats.LoadsCancelled++
	}
	s.loadingSince = time.Time{}
}

// Reset discards decoded data so the next Load decodes again. It is used when
// the underlying asset changed.
func (s *Source) Reset() {
	if s.state == Loading {
		s.abort()
	}
	s.dropPixels()
	s.state = Unloaded
	s.err = nil
}

// AddHolder registers h. The first holder makes the source visible, which
// indexes it in the cache and starts loading it when unloaded.
func (s *Source) AddHolder(h Holder) {
	if _, ok := s.holders[h]; ok {
		return
	}
	s.holders[h] = struct{}{}
	if len(s.holders) == 1 {
		s.mgr.addToIndex(s)
		if s.state == Unloaded {
			s.Load(false)
		}
	}
}

// RemoveHolder unregisters h. When the last holder leaves, an in-flight load
// is cancelled and a decoded buffer still waiting for upload is discarded.
func (s *Source) RemoveHolder(h Holder) {
	if _, ok := s.holders[h]; !ok {
		return
	}
	delete(s.holders, h)
	if len(s.holders) > 0 {
		return
	}
	switch {
	case s.state == Loading:
		s.abort()
		s.state = Unloaded
	case s.state == Loaded && s.pending && !s.permanent:
		s.dropPixels()
		s.state = Unloaded
	}
}

// AddedToAtlas records atlas membership and notifies holders.
func (s *Source) AddedToAtlas(x, y int) {
	s.inAtlas = true
	s.atlasX, s.atlasY = x, y
	for h := range s.holders {
		h.OnTextureSourceAddedToAtlas(s, x, y)
	}
}

// RemovedFromAtlas clears atlas membership and notifies holders. It is a
// no-op when the source is not in an atlas.
func (s *Source) RemovedFromAtlas() {
	if !s.inAtlas {
		return
	}
	s.inAtlas = false
	s.atlasX, s.atlasY = 0, 0
	for h := range s.holders {
		h.OnTextureSourceRemovedFromAtlas(s)
	}
}

func (s *Source) InAtlas() bool { return s.inAtlas }

// AtlasPosition returns the source's offset inside the atlas.
func (s *Source) AtlasPosition() (int, int) { return s.atlasX, s.atlasY }

// complete applies a decode result for the current request.
func (s *Source) complete(img *Image, err error) {
	s.cancel = nil
	s.loadingSince = time.Time{}
	if err != nil {
		s.fail(err)
		return
	}
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		s.fail(Wrap(ErrDecode, "empty image", nil))
		return
	}
	limit := s.mgr.maxTextureSize
	if img.Width > limit || img.Height > limit {
		s.fail(oversize(img.Width, img.Height, limit))
		return
	}
	if want := img.ByteSize(); int64(len(img.Pixels)) != want {
		s.fail(Wrap(ErrDecode, fmt.Sprintf("pixel buffer has %d bytes, want %d", len(img.Pixels), want), nil))
		return
	}

	s.state = Loaded
	s.width, s.height = img.Width, img.Height
	s.byteSize = img.ByteSize()
	s.loadedFrame = s.mgr.frame
	s.mgr.charge(s)
	s.pending = true
	s.mgr.throttle.Add(s, img)
}

func (s *Source) fail(err error) {
	s.state = Error
	s.err = err
	s.cancel = nil
	s.loadingSince = time.Time{}
	s.mgr.stats.LoadErrors++
	s.mgr.logger.Debug("texture source load failed",
		logging.SourceID(int64(s.id)),
		logging.Locator(s.lookupID),
		logging.Error(err),
	)
	for h := range s.holders {
		h.OnTextureSourceLoadError(s, err)
	}
}

// markUploaded is called by the throttle once the pixels reached the GPU.
func (s *Source) markUploaded() {
	s.pending = false
	s.uploaded = true
	for h := range s.holders {
		h.OnTextureSourceLoaded(s)
	}
}

// dropPixels releases everything derived from a successful decode.
func (s *Source) dropPixels() {
	if s.pending {
		s.mgr.throttle.Remove(s)
		s.pending = false
	}
	if s.uploaded {
		s.mgr.uploader.Release(s)
		s.uploaded = false
	}
	s.mgr.uncharge(s)
	s.width, s.height, s.byteSize = 0, 0, 0
}
