// Package cache bounds the memory used by decoded layer geometry.
//
// LayerCache is a memory-budgeted LRU: parsed segment slices are kept
// up to a byte budget and the least-recently-used layers are evicted to
// make room. Handed-out slices are immutable and stay valid after
// eviction; eviction only drops the cache's own reference. In adaptive
// mode the budget follows available system memory.
package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/helixtouch/layerstream/gcode"
	"github.com/helixtouch/layerstream/sysmem"
)

// pressureCheckInterval rate-limits adaptive budget recomputation.
const pressureCheckInterval = 2 * time.Second

// lowMemoryBytes is the "system is tight" threshold; below it the
// adaptive budget is additionally capped at a tenth of available RAM.
const lowMemoryBytes = 64 << 20

// LoaderFunc loads and parses one layer on a cache miss.
type LoaderFunc func(layer int) ([]gcode.Segment, error)

// Result is the outcome of GetOrLoad.
//
// Segments is a shared handle: the slice is immutable and remains
// valid even after the backing cache entry is evicted. A non-nil Err
// means the loader failed and nothing was cached. Segments may be
// non-nil with Hit=false and the layer still uncached when the layer
// alone exceeds the whole budget.
//
// Hit is false whenever the loader was invoked on this call's behalf,
// including when two goroutines race to load the same layer and the
// loser is served the winner's cached copy: the loser's miss was
// already counted, so it still reports Hit=false.
type Result struct {
	Segments []gcode.Segment
	Hit      bool
	Err      error
}

type entry struct {
	layer    int
	segments []gcode.Segment
	bytes    int64
}

// Options configures optional LayerCache collaborators.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Metrics defaults to NoopMetrics.
	Metrics Metrics
	// Mem is the memory provider for adaptive mode; defaults to the
	// platform provider.
	Mem sysmem.Provider
}

// LayerCache is a memory-budgeted LRU cache of parsed layer geometry.
// Safe for concurrent use. The internal lock covers map/LRU bookkeeping
// only; loaders run unlocked, so misses on different layers overlap
// their I/O and parsing.
type LayerCache struct {
	mu      sync.Mutex
	budget  int64
	usage   int64
	items   map[int]*list.Element
	lru     *list.List // front = most recently used

	hits   atomic.Uint64
	misses atomic.Uint64

	// Adaptive budgeting.
	adaptive      bool
	targetPercent int
	minBudget     int64
	maxBudget     int64
	lastCheck     time.Time
	limiter       *rate.Limiter

	mem     sysmem.Provider
	log     *slog.Logger
	metrics Metrics
}

// New creates a cache with the given byte budget.
func New(budget int64, opts Options) *LayerCache {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetrics{}
	}
	if opts.Mem == nil {
		opts.Mem = sysmem.System()
	}
	c := &LayerCache{
		budget:  budget,
		items:   make(map[int]*list.Element),
		lru:     list.New(),
		limiter: rate.NewLimiter(rate.Every(pressureCheckInterval), 1),
		mem:     opts.Mem,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	c.log.Debug("layer cache created", "budget_bytes", budget)
	return c
}

// GetOrLoad returns the layer's segments, invoking loader on a miss.
// A hit promotes the entry to most-recently-used. Loader failures are
// absorbed into Result.Err and never cached. A layer whose estimate
// alone exceeds the budget is returned to the caller without caching.
func (c *LayerCache) GetOrLoad(layer int, loader LoaderFunc) Result {
	c.CheckPressure()

	c.mu.Lock()
	if el, ok := c.items[layer]; ok {
		c.lru.MoveToFront(el)
		segs := el.Value.(*entry).segments
		c.mu.Unlock()
		c.hits.Add(1)
		c.metrics.Hit()
		return Result{Segments: segs, Hit: true}
	}
	c.mu.Unlock()

	c.misses.Add(1)
	c.metrics.Miss()

	segments, err := loader(layer)
	if err != nil {
		c.log.Error("layer load failed", "layer", layer, "error", err)
		return Result{Err: err}
	}
	need := Estimate(segments)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have loaded the same layer while ours ran
	// unlocked; keep the cached copy and drop ours.
	if el, ok := c.items[layer]; ok {
		c.lru.MoveToFront(el)
		return Result{Segments: el.Value.(*entry).segments}
	}

	if need > c.budget {
		c.log.Warn("layer exceeds whole cache budget, returned uncached",
			"layer", layer, "segments", len(segments), "bytes", need, "budget", c.budget)
		return Result{Segments: segments}
	}

	c.evictForLocked(need)
	c.insertLocked(layer, segments, need)
	return Result{Segments: segments}
}

// IsCached reports whether a layer is resident, without touching LRU order.
func (c *LayerCache) IsCached(layer int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[layer]
	return ok
}

// Prefetch loads layers in [center-radius, min(maxLayer, center+radius)]
// via GetOrLoad. Deliberately no separate existence check: GetOrLoad
// handles "already cached", avoiding a check-then-load race.
func (c *LayerCache) Prefetch(center, radius int, loader LoaderFunc, maxLayer int) {
	start := max(center-radius, 0)
	end := min(center+radius, maxLayer)
	for i := start; i <= end; i++ {
		c.GetOrLoad(i, loader)
	}
}

// Insert caches externally parsed segments under the same budget and
// eviction rules as a miss. Returns false when the layer alone exceeds
// the budget. Inserting an already-cached layer only touches it.
func (c *LayerCache) Insert(layer int, segments []gcode.Segment) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[layer]; ok {
		c.lru.MoveToFront(el)
		return true
	}

	need := Estimate(segments)
	if need > c.budget {
		c.log.Warn("layer exceeds whole cache budget, not cached",
			"layer", layer, "bytes", need, "budget", c.budget)
		return false
	}

	c.evictForLocked(need)
	c.insertLocked(layer, segments, need)
	return true
}

// Clear drops every cached layer.
func (c *LayerCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.items)
	c.items = make(map[int]*list.Element)
	c.lru.Init()
	c.usage = 0
	for i := 0; i < n; i++ {
		c.metrics.Evict(EvictManual)
	}
	c.metrics.Size(0, 0)
	c.log.Debug("layer cache cleared", "evicted", n)
}

// Evict removes one layer; returns false when it was not cached.
func (c *LayerCache) Evict(layer int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[layer]
	if !ok {
		return false
	}
	c.removeLocked(el, EvictManual)
	return true
}

// SetBudget changes the memory budget, evicting LRU entries immediately
// when shrinking below current usage.
func (c *LayerCache) SetBudget(budget int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budget = budget
	c.shrinkToBudgetLocked(EvictShrink)
}

// Usage returns the bytes currently charged for cached layers.
func (c *LayerCache) Usage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Budget returns the current byte budget.
func (c *LayerCache) Budget() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// Len returns the number of cached layers.
func (c *LayerCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// HitStats returns the hit and miss counters.
func (c *LayerCache) HitStats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// HitRate returns hits / (hits + misses), 0 when idle.
func (c *LayerCache) HitRate() float64 {
	h, m := c.HitStats()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// ResetStats zeroes the hit/miss counters.
func (c *LayerCache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
}

// SetAdaptive enables or disables adaptive budgeting. targetPercent is
// clamped to [1, 50]. Enabling performs one immediate recomputation;
// afterwards checks are rate-limited to one per 2s.
func (c *LayerCache) SetAdaptive(enabled bool, targetPercent int, minBudget, maxBudget int64) {
	limiter := rate.NewLimiter(rate.Every(pressureCheckInterval), 1)
	if enabled {
		limiter.Allow() // consume the initial token for the immediate check below
	}

	c.mu.Lock()
	c.adaptive = enabled
	c.targetPercent = min(max(targetPercent, 1), 50)
	c.minBudget = minBudget
	c.maxBudget = maxBudget
	c.lastCheck = time.Now()
	c.limiter = limiter
	c.mu.Unlock()

	if enabled {
		c.log.Info("adaptive cache budget enabled",
			"target_percent", targetPercent, "min_bytes", minBudget, "max_bytes", maxBudget)
		c.applyAdaptiveBudget()
	}
}

// Adaptive reports whether adaptive budgeting is on.
func (c *LayerCache) Adaptive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adaptive
}

// CheckPressure recomputes the adaptive budget if adaptive mode is on
// and the rate limit allows. Called opportunistically by GetOrLoad.
// Returns true when the budget changed.
func (c *LayerCache) CheckPressure() bool {
	c.mu.Lock()
	if !c.adaptive || !c.limiter.Allow() {
		c.mu.Unlock()
		return false
	}
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return c.applyAdaptiveBudget()
}

// RespondToPressure forcibly multiplies the budget by factor (clamped
// to [0.1, 1.0]) and evicts immediately. For callers with out-of-band
// knowledge that memory is tight.
func (c *LayerCache) RespondToPressure(factor float64) {
	factor = min(max(factor, 0.1), 1.0)

	c.mu.Lock()
	defer c.mu.Unlock()

	budget := int64(float64(c.budget) * factor)
	if c.adaptive && budget < c.minBudget {
		budget = c.minBudget
	}
	c.log.Warn("emergency memory pressure response",
		"old_budget", c.budget, "new_budget", budget)
	c.budget = budget
	c.shrinkToBudgetLocked(EvictPressure)
}

// SinceLastPressureCheck returns the time since the last adaptive check.
func (c *LayerCache) SinceLastPressureCheck() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastCheck)
}

// applyAdaptiveBudget reads the memory provider (outside the lock; it
// may touch the kernel) and applies the computed budget when it differs
// from the current one by more than 10%.
func (c *LayerCache) applyAdaptiveBudget() bool {
	c.mu.Lock()
	pct, minB, maxB := c.targetPercent, c.minBudget, c.maxBudget
	c.mu.Unlock()

	target := adaptiveTarget(c.mem, pct, minB, maxB)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.budget > 0 {
		ratio := float64(target) / float64(c.budget)
		if ratio > 0.9 && ratio < 1.1 {
			return false
		}
	}

	old := c.budget
	c.budget = target
	c.shrinkToBudgetLocked(EvictPressure)
	c.log.Info("adaptive budget adjusted",
		"old_bytes", old, "new_bytes", target, "cached_layers", len(c.items))
	return true
}

// adaptiveTarget computes targetPercent of available RAM clamped to
// [minB, maxB]. A provider failure falls back to the conservative
// minimum. Under low memory the target is additionally capped at a
// tenth of what is available.
func adaptiveTarget(mem sysmem.Provider, targetPercent int, minB, maxB int64) int64 {
	avail, err := mem.Available()
	if err != nil || avail == 0 {
		return minB
	}

	target := int64(avail) * int64(targetPercent) / 100
	target = min(max(target, minB), maxB)

	if avail < lowMemoryBytes {
		target = min(target, int64(avail)/10)
		target = max(target, minB)
	}
	return target
}

func (c *LayerCache) insertLocked(layer int, segments []gcode.Segment, bytes int64) {
	el := c.lru.PushFront(&entry{layer: layer, segments: segments, bytes: bytes})
	c.items[layer] = el
	c.usage += bytes
	c.metrics.Size(len(c.items), c.usage)
	c.log.Debug("layer cached",
		"layer", layer, "segments", len(segments), "bytes", bytes, "usage", c.usage)
}

// evictForLocked frees room for an incoming entry of the given size.
func (c *LayerCache) evictForLocked(need int64) {
	for c.usage+need > c.budget && c.lru.Len() > 0 {
		c.removeLocked(c.lru.Back(), EvictCapacity)
	}
}

func (c *LayerCache) shrinkToBudgetLocked(reason EvictReason) {
	for c.usage > c.budget && c.lru.Len() > 0 {
		c.removeLocked(c.lru.Back(), reason)
	}
}

func (c *LayerCache) removeLocked(el *list.Element, reason EvictReason) {
	ent := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.items, ent.layer)
	c.subtractLocked(ent.bytes)
	c.metrics.Evict(reason)
	c.metrics.Size(len(c.items), c.usage)
	c.log.Debug("layer evicted", "layer", ent.layer, "bytes", ent.bytes)
}

// subtractLocked guards the usage counter against underflow; a mismatch
// is an internal bug signal, logged and clamped rather than wrapped.
func (c *LayerCache) subtractLocked(bytes int64) {
	if bytes <= c.usage {
		c.usage -= bytes
		return
	}
	c.log.Error("cache memory accounting underflow",
		"usage", c.usage, "subtracting", bytes)
	c.usage = 0
}
