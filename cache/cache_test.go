package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/helixtouch/layerstream/gcode"
	"github.com/helixtouch/layerstream/sysmem"
)

// makeSegments returns n label-free segments, costing exactly
// entryOverhead + n*bytesPerSegment against the budget.
func makeSegments(n int) []gcode.Segment {
	segs := make([]gcode.Segment, n)
	for i := range segs {
		segs[i] = gcode.Segment{
			Start: gcode.Vec3{X: float32(i)},
			End:   gcode.Vec3{X: float32(i + 1)},
		}
	}
	return segs
}

// layerCost is the charged size of a makeSegments(n) layer.
func layerCost(n int) int64 {
	return entryOverhead + int64(n)*bytesPerSegment
}

// countingLoader returns a loader producing segsPerLayer segments and
// counting invocations per layer.
func countingLoader(segsPerLayer int) (LoaderFunc, *sync.Map) {
	var calls sync.Map
	return func(layer int) ([]gcode.Segment, error) {
		v, _ := calls.LoadOrStore(layer, new(int))
		*v.(*int)++
		return makeSegments(segsPerLayer), nil
	}, &calls
}

func TestEstimate(t *testing.T) {
	require.Equal(t, int64(entryOverhead), Estimate(nil))
	require.Equal(t, layerCost(10), Estimate(makeSegments(10)))

	// Long labels are charged, short ones are not.
	segs := makeSegments(1)
	segs[0].Label = "short"
	require.Equal(t, layerCost(1), Estimate(segs))

	segs[0].Label = "a-rather-long-object-name"
	require.Equal(t, layerCost(1)+int64(len(segs[0].Label))+1, Estimate(segs))
}

func TestLayerCache_HitMissAccounting(t *testing.T) {
	c := New(1<<20, Options{})
	loader, calls := countingLoader(5)

	// 1. Three distinct layers: three misses.
	for i := 0; i < 3; i++ {
		res := c.GetOrLoad(i, loader)
		require.NoError(t, res.Err)
		require.False(t, res.Hit)
		require.Len(t, res.Segments, 5)
	}

	// 2. Re-access twice: two hits, no extra loads.
	for i := 0; i < 2; i++ {
		res := c.GetOrLoad(1, loader)
		require.NoError(t, res.Err)
		require.True(t, res.Hit)
	}

	hits, misses := c.HitStats()
	require.Equal(t, uint64(2), hits)
	require.Equal(t, uint64(3), misses)
	require.InDelta(t, 0.4, c.HitRate(), 1e-9)

	v, _ := calls.Load(1)
	require.Equal(t, 1, *v.(*int))

	c.ResetStats()
	hits, misses = c.HitStats()
	require.Zero(t, hits)
	require.Zero(t, misses)
}

func TestLayerCache_UsageInvariant(t *testing.T) {
	c := New(1<<20, Options{})
	loader, _ := countingLoader(7)

	for i := 0; i < 10; i++ {
		c.GetOrLoad(i, loader)
	}
	require.Equal(t, 10, c.Len())
	require.Equal(t, 10*layerCost(7), c.Usage())

	require.True(t, c.Evict(4))
	require.False(t, c.Evict(4))
	require.Equal(t, 9*layerCost(7), c.Usage())

	c.Clear()
	require.Zero(t, c.Len())
	require.Zero(t, c.Usage())
}

func TestLayerCache_LRUEviction(t *testing.T) {
	// Scenario: budget fits exactly two layers; the third load evicts
	// the least recently used.
	c := New(2*layerCost(4), Options{})
	loader, _ := countingLoader(4)

	c.GetOrLoad(0, loader)
	c.GetOrLoad(1, loader)
	c.GetOrLoad(2, loader)

	require.False(t, c.IsCached(0))
	require.True(t, c.IsCached(1))
	require.True(t, c.IsCached(2))
	require.LessOrEqual(t, c.Usage(), c.Budget())
}

func TestLayerCache_TouchProtectsEntry(t *testing.T) {
	c := New(2*layerCost(4), Options{})
	loader, _ := countingLoader(4)

	c.GetOrLoad(0, loader)
	c.GetOrLoad(1, loader)
	c.GetOrLoad(0, loader) // touch 0, making 1 the eviction candidate
	c.GetOrLoad(2, loader)

	require.True(t, c.IsCached(0))
	require.False(t, c.IsCached(1))
	require.True(t, c.IsCached(2))
}

func TestLayerCache_ShrinkEvictsImmediately(t *testing.T) {
	c := New(1<<20, Options{})
	loader, _ := countingLoader(8)

	for i := 0; i < 3; i++ {
		c.GetOrLoad(i, loader)
	}
	require.Equal(t, 3, c.Len())

	newBudget := layerCost(8) + layerCost(8)/2 // fits one layer only
	c.SetBudget(newBudget)
	require.LessOrEqual(t, c.Usage(), newBudget)
	require.Equal(t, 1, c.Len())
	require.True(t, c.IsCached(2)) // most recent survives
}

func TestLayerCache_PrefetchPopulatesWindow(t *testing.T) {
	c := New(1<<20, Options{})
	loader, calls := countingLoader(3)

	c.Prefetch(10, 2, loader, 50)

	for i := 8; i <= 12; i++ {
		require.True(t, c.IsCached(i), "layer %d", i)
	}
	require.Equal(t, 5, c.Len())

	// Window clamps at both ends.
	c.Prefetch(0, 2, loader, 50)
	require.True(t, c.IsCached(0))
	require.False(t, c.IsCached(-1))

	calls.Range(func(k, v any) bool {
		require.Equal(t, 1, *v.(*int), "layer %v loaded once", k)
		return true
	})
}

func TestLayerCache_OversizeReturnedUncached(t *testing.T) {
	c := New(layerCost(2), Options{})

	res := c.GetOrLoad(0, func(int) ([]gcode.Segment, error) {
		return makeSegments(100), nil
	})
	require.NoError(t, res.Err)
	require.Len(t, res.Segments, 100)
	require.False(t, res.Hit)
	require.False(t, c.IsCached(0))
	require.Zero(t, c.Len())

	require.False(t, c.Insert(0, makeSegments(100)))
}

func TestLayerCache_LoaderErrorNotCached(t *testing.T) {
	c := New(1<<20, Options{})
	boom := errors.New("read failed")

	res := c.GetOrLoad(3, func(int) ([]gcode.Segment, error) {
		return nil, boom
	})
	require.ErrorIs(t, res.Err, boom)
	require.False(t, c.IsCached(3))

	// The next access retries the loader.
	res = c.GetOrLoad(3, func(int) ([]gcode.Segment, error) {
		return makeSegments(1), nil
	})
	require.NoError(t, res.Err)
	require.True(t, c.IsCached(3))
}

func TestLayerCache_SharedHandleSurvivesEviction(t *testing.T) {
	c := New(2*layerCost(4), Options{})
	loader, _ := countingLoader(4)

	res := c.GetOrLoad(0, loader)
	handle := res.Segments
	want := append([]gcode.Segment(nil), handle...)

	// Fill past the budget so layer 0 is evicted.
	c.GetOrLoad(1, loader)
	c.GetOrLoad(2, loader)
	require.False(t, c.IsCached(0))

	require.Equal(t, want, handle)
}

func TestLayerCache_InsertAndConcurrentAccess(t *testing.T) {
	c := New(1<<20, Options{})

	require.True(t, c.Insert(7, makeSegments(2)))
	require.True(t, c.IsCached(7))
	require.True(t, c.Insert(7, makeSegments(2))) // touch only
	require.Equal(t, 1, c.Len())

	loader, _ := countingLoader(2)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				res := c.GetOrLoad((g+i)%20, loader)
				require.NoError(t, res.Err)
			}
		}(g)
	}
	wg.Wait()

	require.Equal(t, 20, c.Len())
	require.Equal(t, 20*layerCost(2), c.Usage())
}

func TestLayerCache_AdaptiveBudget(t *testing.T) {
	mem := &sysmem.Fake{AvailableBytes: 200 << 20, TotalBytes: 1 << 30}
	c := New(8<<20, Options{Mem: mem})

	// 15% of 200 MiB = 30 MiB, clamped to max 16 MiB.
	c.SetAdaptive(true, 15, 1<<20, 16<<20)
	require.True(t, c.Adaptive())
	require.Equal(t, int64(16<<20), c.Budget())

	// Provider failure falls back to the minimum.
	mem.Err = fmt.Errorf("sysinfo unavailable")
	c.SetAdaptive(true, 15, 1<<20, 16<<20)
	require.Equal(t, int64(1<<20), c.Budget())
}

func TestLayerCache_AdaptiveLowMemoryCap(t *testing.T) {
	// 32 MiB available is below the low-memory threshold: the target is
	// capped at a tenth of it, floored at the minimum.
	mem := &sysmem.Fake{AvailableBytes: 32 << 20, TotalBytes: 128 << 20}
	c := New(8<<20, Options{Mem: mem})

	c.SetAdaptive(true, 25, 1<<20, 16<<20)
	require.Equal(t, int64(32<<20)/10, c.Budget())
}

func TestLayerCache_AdaptiveRateLimit(t *testing.T) {
	mem := &sysmem.Fake{AvailableBytes: 100 << 20, TotalBytes: 1 << 30}
	c := New(8<<20, Options{Mem: mem})
	c.SetAdaptive(true, 15, 1<<20, 32<<20)
	budget := c.Budget()

	// Memory halves, but the follow-up check is rate limited.
	mem.AvailableBytes = 50 << 20
	require.False(t, c.CheckPressure())
	require.Equal(t, budget, c.Budget())
	require.Less(t, c.SinceLastPressureCheck(), time.Minute)
}

func TestLayerCache_SmallBudgetChangeIgnored(t *testing.T) {
	mem := &sysmem.Fake{AvailableBytes: 100 << 20, TotalBytes: 1 << 30}
	c := New(8<<20, Options{Mem: mem})
	c.SetAdaptive(true, 15, 1<<20, 32<<20)
	require.Equal(t, int64(15<<20), c.Budget())

	// 5% drift stays within the dead band.
	mem.AvailableBytes = 105 << 20
	c.SetAdaptive(true, 15, 1<<20, 32<<20)
	require.Equal(t, int64(15<<20), c.Budget())
}

func TestLayerCache_RespondToPressure(t *testing.T) {
	c := New(1<<20, Options{})
	loader, _ := countingLoader(8)
	for i := 0; i < 5; i++ {
		c.GetOrLoad(i, loader)
	}

	c.RespondToPressure(0.5)
	require.Equal(t, int64(512<<10), c.Budget())
	require.LessOrEqual(t, c.Usage(), c.Budget())

	// Factor is clamped; 0 behaves as 0.1.
	c.RespondToPressure(0)
	require.Equal(t, int64(512<<10)/10, c.Budget())
}

// recordingMetrics captures events for assertions.
type recordingMetrics struct {
	mu     sync.Mutex
	hits   int
	misses int
	evicts map[EvictReason]int
}

func (m *recordingMetrics) Hit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits++
}

func (m *recordingMetrics) Miss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

func (m *recordingMetrics) Evict(reason EvictReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.evicts == nil {
		m.evicts = map[EvictReason]int{}
	}
	m.evicts[reason]++
}

func (m *recordingMetrics) Size(int, int64) {}

func TestLayerCache_MetricsEvents(t *testing.T) {
	rec := &recordingMetrics{}
	c := New(2*layerCost(4), Options{Metrics: rec})
	loader, _ := countingLoader(4)

	c.GetOrLoad(0, loader)
	c.GetOrLoad(0, loader)
	c.GetOrLoad(1, loader)
	c.GetOrLoad(2, loader) // evicts 0
	c.Clear()              // evicts 1 and 2

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, 1, rec.hits)
	require.Equal(t, 3, rec.misses)
	require.Equal(t, 1, rec.evicts[EvictCapacity])
	require.Equal(t, 2, rec.evicts[EvictManual])
}
