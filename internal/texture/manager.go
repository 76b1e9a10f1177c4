package texture

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"texcache/internal/config"
	"texcache/internal/logging"
)

const (
	// DefaultMaxTextureSize is the largest accepted width or height.
	DefaultMaxTextureSize = 2048
	// DefaultGraceFrames is how many frames a freshly loaded source survives
	// a non-aggressive sweep without holders.
	DefaultGraceFrames = 1
	// DefaultMemoryBudgetBytes replaces a non-positive memory budget.
	DefaultMemoryBudgetBytes = 64 << 20
)

// Options configures a Manager.
type Options struct {
	MemoryBudgetBytes int64
	GraceFrames       int
	MaxTextureSize    int
	UploadBudget      time.Duration
	Uploader          Uploader
	Atlas             Atlas
	Logger            *slog.Logger
	// Now is the clock used for upload budgeting and load timestamps.
	Now func() time.Time
}

// OptionsFromConfig maps the cache and throttle sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MemoryBudgetBytes: cfg.Cache.MemoryBudgetBytes,
		GraceFrames:       cfg.Cache.GraceFrames,
		MaxTextureSize:    cfg.Cache.MaxTextureSize,
		UploadBudget:      time.Duration(cfg.Throttle.PerFrameUploadBudgetMs) * time.Millisecond,
	}
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Sources           int    `json:"sources"`
	Indexed           int    `json:"indexed"`
	UsedMemoryBytes   int64  `json:"used_memory_bytes"`
	MemoryBudgetBytes int64  `json:"memory_budget_bytes"`
	PendingUploads    int    `json:"pending_uploads"`
	Frame             uint64 `json:"frame"`

	LoadsStarted   uint64 `json:"loads_started"`
	LoadsCancelled uint64 `json:"loads_cancelled"`
	LoadErrors     uint64 `json:"load_errors"`
	Uploads        uint64 `json:"uploads"`
	Evictions      uint64 `json:"evictions"`
	Sweeps         uint64 `json:"sweeps"`
}

// Completion is a decode result waiting to be applied on the frame goroutine.
type Completion struct {
	Source *Source
	Image  *Image
	Err    error
	token  uint64
}

// Manager owns every Source, the upload Throttle and the completion inbox.
// Apart from Post and Notify, its methods must be called from the frame
// goroutine.
type Manager struct {
	bySourceID map[SourceID]*Source
	byLookupID map[string]*Source

	usedMemoryBytes   int64
	memoryBudgetBytes int64
	graceFrames       uint64
	maxTextureSize    int
	frame             uint64
	nextID            SourceID

	throttle *Throttle
	uploader Uploader
	atlas    Atlas
	logger   *slog.Logger
	now      func() time.Time
	stats    Stats

	inboxMu sync.Mutex
	inbox   []Completion
	notify  chan struct{}
}

// NewManager builds a Manager.
func NewManager(opts Options) *Manager {
	if opts.MemoryBudgetBytes <= 0 {
		opts.MemoryBudgetBytes = DefaultMemoryBudgetBytes
	}
	if opts.MaxTextureSize <= 0 {
		opts.MaxTextureSize = DefaultMaxTextureSize
	}
	if opts.GraceFrames < 0 {
		opts.GraceFrames = 0
	}
	if opts.Uploader == nil {
		opts.Uploader = nopUploader{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		bySourceID:        make(map[SourceID]*Source),
		byLookupID:        make(map[string]*Source),
		memoryBudgetBytes: opts.MemoryBudgetBytes,
		graceFrames:       uint64(opts.GraceFrames),
		maxTextureSize:    opts.MaxTextureSize,
		uploader:          opts.Uploader,
		atlas:             opts.Atlas,
		logger:            logging.NewComponentLogger(opts.Logger, "texture"),
		now:               opts.Now,
		notify:            make(chan struct{}, 1),
	}
	m.throttle = NewThrottle(opts.UploadBudget, opts.Now, m.upload)
	return m
}

// NormalizeLookupID returns the canonical form of a lookup id.
func NormalizeLookupID(lookupID string) string {
	return norm.NFC.String(lookupID)
}

// GetOrCreate returns the source registered under lookupID, or creates one
// whose decodes are started by newLoader(). An empty lookupID always creates
// a new, unshared source.
func (m *Manager) GetOrCreate(lookupID string, newLoader func() Loader) *Source {
	key := NormalizeLookupID(lookupID)
	if key != "" {
		if src, ok := m.byLookupID[key]; ok {
			return src
		}
	}
	m.nextID++
	src := &Source{
		id:       m.nextID,
		lookupID: key,
		mgr:      m,
		loader:   newLoader(),
		holders:  make(map[Holder]struct{}),
	}
	if key != "" {
		m.byLookupID[key] = src
	}
	return src
}

// Lookup returns the source registered under lookupID.
func (m *Manager) Lookup(lookupID string) (*Source, bool) {
	src, ok := m.byLookupID[NormalizeLookupID(lookupID)]
	return src, ok
}

// Source returns an indexed source by id.
func (m *Manager) Source(id SourceID) (*Source, bool) {
	src, ok := m.bySourceID[id]
	return src, ok
}

func (m *Manager) addToIndex(src *Source) {
	m.bySourceID[src.id] = src
	if src.lookupID != "" {
		if _, ok := m.byLookupID[src.lookupID]; !ok {
			m.byLookupID[src.lookupID] = src
		}
	}
}

func (m *Manager) removeFromIndex(src *Source) {
	if cur, ok := m.bySourceID[src.id]; ok && cur == src {
		delete(m.bySourceID, src.id)
	}
	if src.lookupID != "" {
		if cur, ok := m.byLookupID[src.lookupID]; ok && cur == src {
			delete(m.byLookupID, src.lookupID)
		}
	}
}

// UsedMemoryBytes is the decoded size of all loaded sources.
func (m *Manager) UsedMemoryBytes() int64 { return m.usedMemoryBytes }

// MemoryBudgetBytes is the configured memory ceiling.
func (m *Manager) MemoryBudgetBytes() int64 { return m.memoryBudgetBytes }

// IsFull reports whether used memory reached the budget.
func (m *Manager) IsFull() bool {
	return m.usedMemoryBytes >= m.memoryBudgetBytes
}

// FreeUnusedTextureSources runs a non-aggressive sweep.
func (m *Manager) FreeUnusedTextureSources() int {
	return m.GC(false)
}

// GC frees every source that has no holders and is not permanent. Unless
// aggressive is set, sources that finished loading within the grace window
// are kept. It returns the number of sources freed.
func (m *Manager) GC(aggressive bool) int {
	m.stats.Sweeps++
	before := m.usedMemoryBytes
	var victims []*Source
	for _, src := range m.sources() {
		if !src.Evictable() {
			continue
		}
		if !aggressive && src.state == Loaded && m.frame-src.loadedFrame < m.graceFrames {
			continue
		}
		victims = append(victims, src)
	}
	for _, src := range victims {
		m.free(src)
	}
	if len(victims) > 0 {
		m.logger.Debug("texture sweep",
			logging.Bool("aggressive", aggressive),
			logging.Int("freed", len(victims)),
			logging.Int64("freed_bytes", before-m.usedMemoryBytes),
			logging.Int64("used_bytes", m.usedMemoryBytes),
		)
	}
	if m.IsFull() {
		logging.WarnWithContext(m.logger, "texture memory over budget after sweep", "cache_budget_exceeded",
			logging.Int64("used_bytes", m.usedMemoryBytes),
			logging.Int64("budget_bytes", m.memoryBudgetBytes),
			logging.Bool("aggressive", aggressive),
			logging.String(logging.FieldErrorHint, "raise cache.memory_budget_bytes or release holders"),
			logging.String(logging.FieldImpact, "visible textures exceed the memory budget"),
		)
	}
	return len(victims)
}

// Clear frees every source, held or permanent.
func (m *Manager) Clear() {
	for _, src := range m.sources() {
		m.free(src)
	}
}

// sources returns the union of both maps.
func (m *Manager) sources() []*Source {
	seen := make(map[*Source]struct{}, len(m.bySourceID)+len(m.byLookupID))
	out := make([]*Source, 0, len(seen))
	for _, src := range m.bySourceID {
		seen[src] = struct{}{}
		out = append(out, src)
	}
	for _, src := range m.byLookupID {
		if _, ok := seen[src]; !ok {
			seen[src] = struct{}{}
			out = append(out, src)
		}
	}
	return out
}

func (m *Manager) free(src *Source) {
	if src.state == Loading {
		src.abort()
	}
	src.dropPixels()
	if src.inAtlas {
		if m.atlas != nil {
			m.atlas.Remove(src)
		}
		src.RemovedFromAtlas()
	}
	src.state = Unloaded
	src.err = nil
	m.removeFromIndex(src)
	m.stats.Evictions++
}

func (m *Manager) charge(src *Source) {
	if src.counted {
		return
	}
	src.counted = true
	m.usedMemoryBytes += src.byteSize
}

func (m *Manager) uncharge(src *Source) {
	if !src.counted {
		return
	}
	src.counted = false
	m.usedMemoryBytes -= src.byteSize
}

func (m *Manager) upload(src *Source, img *Image) {
	if err := m.uploader.Upload(src, img); err != nil {
		src.pending = false
		m.uncharge(src)
		src.fail(Wrap(ErrDecode, "upload", err))
		return
	}
	m.stats.Uploads++
	src.markUploaded()
}

// Throttle returns the upload throttle.
func (m *Manager) Throttle() *Throttle { return m.throttle }

// Frame returns the number of frames driven so far.
func (m *Manager) Frame() uint64 { return m.frame }

// Stats returns a snapshot of the cache counters.
func (m *Manager) Stats() Stats {
	s := m.stats
	s.Sources = len(m.sources())
	s.Indexed = len(m.bySourceID)
	s.UsedMemoryBytes = m.usedMemoryBytes
	s.MemoryBudgetBytes = m.memoryBudgetBytes
	s.PendingUploads = m.throttle.Len()
	s.Frame = m.frame
	return s
}

// Post queues a decode completion. It is safe to call from any goroutine.
func (m *Manager) Post(c Completion) {
	m.inboxMu.Lock()
	m.inbox = append(m.inbox, c)
	m.inboxMu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Notify is signalled whenever Post queues a completion.
func (m *Manager) Notify() <-chan struct{} { return m.notify }

// Drain applies queued completions in the order they were posted. Results
// for cancelled or superseded requests are dropped.
func (m *Manager) Drain() int {
	m.inboxMu.Lock()
	batch := m.inbox
	m.inbox = nil
	m.inboxMu.Unlock()

	applied := 0
	for _, c := range batch {
		src := c.Source
		if src == nil || src.state != Loading || c.token != src.token {
			continue
		}
		src.complete(c.Image, c.Err)
		applied++
	}
	return applied
}
