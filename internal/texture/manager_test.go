package texture

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"texcache/internal/config"
	"texcache/internal/logging"
)

func TestGetOrCreateDedupsByLookupID(t *testing.T) {
	h := newHarness(t, 0)
	factoryCalls := 0
	newLoader := func() Loader {
		factoryCalls++
		return h.backend.loader()
	}

	a := h.mgr.GetOrCreate("foo.png", newLoader)
	b := h.mgr.GetOrCreate("foo.png", newLoader)
	require.Same(t, a, b)
	assert.Equal(t, 1, factoryCalls)

	a.AddHolder(&recordingHolder{})
	b.AddHolder(&recordingHolder{})
	assert.Equal(t, 1, h.backend.count())
}

func TestGetOrCreateNormalizesLookupID(t *testing.T) {
	h := newHarness(t, 0)
	composed := h.mgr.GetOrCreate("caf\u00e9.png", h.backend.newLoader())
	decomposed := h.mgr.GetOrCreate("cafe\u0301.png", h.backend.newLoader())
	assert.Same(t, composed, decomposed)

	found, ok := h.mgr.Lookup("cafe\u0301.png")
	require.True(t, ok)
	assert.Same(t, composed, found)
}

func TestEmptyLookupIDNeverDedups(t *testing.T) {
	h := newHarness(t, 0)
	a := h.mgr.GetOrCreate("", h.backend.newLoader())
	b := h.mgr.GetOrCreate("", h.backend.newLoader())
	assert.NotSame(t, a, b)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestIndexIsPopulatedOnFirstHolder(t *testing.T) {
	h := newHarness(t, 0)
	src := h.mgr.GetOrCreate("a.png", h.backend.newLoader())
	_, ok := h.mgr.Source(src.ID())
	assert.False(t, ok)

	holder := &recordingHolder{}
	src.AddHolder(holder)
	_, ok = h.mgr.Source(src.ID())
	assert.True(t, ok)

	src.RemoveHolder(holder)
	_, ok = h.mgr.Source(src.ID())
	assert.True(t, ok, "unheld sources stay indexed until a sweep")

	again := h.mgr.GetOrCreate("a.png", h.backend.newLoader())
	assert.Same(t, src, again)
}

func TestGCFreesUnheldSourcesAfterGrace(t *testing.T) {
	h := newHarness(t, 0)
	holder := &recordingHolder{}
	src := h.loadHeld(t, "a.png", 2, 2, holder)
	h.driver.Frame()
	src.RemoveHolder(holder)

	assert.Zero(t, h.mgr.FreeUnusedTextureSources(), "loaded this frame")
	assert.Equal(t, Loaded, src.State())

	h.driver.Frame()
	assert.Equal(t, 1, h.mgr.FreeUnusedTextureSources())
	assert.Equal(t, Unloaded, src.State())
	assert.Zero(t, h.mgr.UsedMemoryBytes())
	assert.Equal(t, []SourceID{src.ID()}, h.uploader.released)

	_, ok := h.mgr.Source(src.ID())
	assert.False(t, ok)
	_, ok = h.mgr.Lookup("a.png")
	assert.False(t, ok)

	assert.Zero(t, h.mgr.GC(true), "removal is idempotent")
	assert.Equal(t, []SourceID{src.ID()}, h.uploader.released)
}

func TestAggressiveGCIgnoresGrace(t *testing.T) {
	h := newHarness(t, 0)
	holder := &recordingHolder{}
	src := h.loadHeld(t, "a.png", 2, 2, holder)
	h.driver.Frame()
	src.RemoveHolder(holder)

	assert.Equal(t, 1, h.mgr.GC(true))
	assert.Equal(t, Unloaded, src.State())
}

func TestGCNeverFreesHeldOrPermanentSources(t *testing.T) {
	h := newHarness(t, 0)
	held := h.loadHeld(t, "held.png", 2, 2, &recordingHolder{})

	permHolder := &recordingHolder{}
	perm := h.mgr.GetOrCreate("perm.png", h.backend.newLoader())
	perm.SetPermanent(true)
	perm.AddHolder(permHolder)
	h.backend.last().deliver(rgba(2, 2), nil)

	neverHeldPerm := h.mgr.GetOrCreate("idle-perm.png", h.backend.newLoader())
	neverHeldPerm.SetPermanent(true)

	h.driver.Frame()
	perm.RemoveHolder(permHolder)
	h.driver.Frame()

	for _, aggressive := range []bool{false, true} {
		assert.Zero(t, h.mgr.GC(aggressive))
	}
	assert.Equal(t, Loaded, held.State())
	assert.Equal(t, Loaded, perm.State())
	_, ok := h.mgr.Source(neverHeldPerm.ID())
	assert.True(t, ok)
}

func TestGCRemovesAtlasMembership(t *testing.T) {
	h := newHarness(t, 0)
	holder := &recordingHolder{}
	src := h.loadHeld(t, "a.png", 2, 2, holder)
	h.driver.Frame()
	src.AddedToAtlas(1, 2)
	src.RemoveHolder(holder)

	h.mgr.GC(true)
	assert.Equal(t, []SourceID{src.ID()}, h.atlas.removed)
	assert.False(t, src.InAtlas())
}

func TestGCCancelsUnheldLoads(t *testing.T) {
	h := newHarness(t, 0)
	src := h.mgr.GetOrCreate("a.png", h.backend.newLoader())
	src.Load(false)
	req := h.backend.last()

	assert.Equal(t, 1, h.mgr.GC(false))
	assert.True(t, req.cancelled)

	req.deliver(rgba(1, 1), nil)
	h.driver.Frame()
	assert.Equal(t, Unloaded, src.State())
}

func TestMemoryBudgetScenario(t *testing.T) {
	const perSource = 16 * 16 * 4
	const budget = 10 * perSource
	h := newHarness(t, budget)

	type entry struct {
		src    *Source
		holder *recordingHolder
	}
	var entries []entry
	for i := 0; i < 15; i++ {
		holder := &recordingHolder{}
		src := h.loadHeld(t, fmt.Sprintf("tile-%02d.png", i), 16, 16, holder)
		entries = append(entries, entry{src: src, holder: holder})
	}

	report := h.driver.Frame()
	assert.Equal(t, 15, report.Applied)
	assert.True(t, h.mgr.IsFull())
	assert.Zero(t, h.mgr.FreeUnusedTextureSources(), "all sources are held")
	assert.Equal(t, int64(15*perSource), h.mgr.UsedMemoryBytes())
	for _, e := range entries {
		assert.Equal(t, Loaded, e.src.State())
	}

	for _, e := range entries[:8] {
		e.src.RemoveHolder(e.holder)
	}
	h.driver.Frame()
	assert.Less(t, h.mgr.UsedMemoryBytes(), int64(budget))
	assert.False(t, h.mgr.IsFull())
	for _, e := range entries[8:] {
		assert.Equal(t, Loaded, e.src.State())
	}
}

func TestIsFullAtExactBudget(t *testing.T) {
	h := newHarness(t, 2*2*4)
	assert.False(t, h.mgr.IsFull())
	h.loadHeld(t, "a.png", 2, 2, &recordingHolder{})
	h.driver.Frame()
	assert.Equal(t, h.mgr.MemoryBudgetBytes(), h.mgr.UsedMemoryBytes())
	assert.True(t, h.mgr.IsFull())
}

func TestNonPositiveBudgetUsesDefault(t *testing.T) {
	for _, budget := range []int64{0, -1} {
		mgr := NewManager(Options{MemoryBudgetBytes: budget, Logger: logging.NewNop()})
		assert.Equal(t, int64(DefaultMemoryBudgetBytes), mgr.MemoryBudgetBytes())
		assert.False(t, mgr.IsFull())
	}
}

func TestClearFreesEverything(t *testing.T) {
	h := newHarness(t, 0)
	src := h.loadHeld(t, "a.png", 2, 2, &recordingHolder{})
	h.driver.Frame()
	perm := h.mgr.GetOrCreate("b.png", h.backend.newLoader())
	perm.SetPermanent(true)

	h.mgr.Clear()
	assert.Equal(t, Unloaded, src.State())
	assert.Zero(t, h.mgr.UsedMemoryBytes())
	assert.Zero(t, h.mgr.Stats().Sources)
}

func TestStatsSnapshot(t *testing.T) {
	h := newHarness(t, 1<<20)
	holder := &recordingHolder{}
	src := h.loadHeld(t, "a.png", 2, 2, holder)
	h.driver.Frame()
	src.RemoveHolder(holder)
	h.driver.Frame()
	h.mgr.GC(false)

	st := h.mgr.Stats()
	assert.Equal(t, uint64(1), st.LoadsStarted)
	assert.Equal(t, uint64(1), st.Uploads)
	assert.Equal(t, uint64(1), st.Evictions)
	assert.Equal(t, int64(1<<20), st.MemoryBudgetBytes)
	assert.Equal(t, uint64(2), st.Frame)
	assert.Zero(t, st.Sources)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	opts := OptionsFromConfig(&cfg)
	assert.Equal(t, cfg.Cache.MemoryBudgetBytes, opts.MemoryBudgetBytes)
	assert.Equal(t, DefaultUploadBudget, opts.UploadBudget)
	assert.Equal(t, DefaultMaxTextureSize, opts.MaxTextureSize)
	assert.Equal(t, DefaultGraceFrames, opts.GraceFrames)
}
