package layerstream

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/helixtouch/layerstream/cache"
	"github.com/helixtouch/layerstream/gcode"
	"github.com/helixtouch/layerstream/index"
	"github.com/helixtouch/layerstream/source"
	"github.com/helixtouch/layerstream/sysmem"
)

// headerProbeBytes is how much of the file start is scanned for slicer
// header metadata.
const headerProbeBytes = 32 * 1024

// maxConcurrentPrefetch bounds parallel range reads during a prefetch
// sweep so it never starves a foreground layer request.
const maxConcurrentPrefetch = 4

// maxPendingHints bounds how many RequestLayer hints may run at once;
// further hints are dropped rather than queued.
const maxPendingHints = 2

// StreamingController streams parsed layer geometry out of a G-code
// file without ever holding the whole file in memory. One controller
// manages one open file at a time; opening a new file closes the
// previous session. All methods are safe for concurrent use.
type StreamingController struct {
	mu     sync.RWMutex
	src    source.DataSource
	idx    *index.Index
	header *headerState

	cache  *cache.LayerCache
	parser gcode.Parser

	// flight and hints are recreated per session so loads started
	// against a previous file can never be joined or admitted after a
	// reopen. gen identifies the session; loaders capture it and their
	// result is discarded when it changed mid-load.
	flight *singleflight.Group
	hints  *semaphore.Weighted
	gen    atomic.Uint64

	open     atomic.Bool
	indexing atomic.Bool
	progress atomic.Uint64 // float64 bits, 0..1 of the current index build

	prefetchRadius int
	httpClient     *http.Client
	log            *Logger
}

// headerState lazily extracts slicer metadata once per session.
type headerState struct {
	once sync.Once
	meta *gcode.HeaderMetadata
}

// NewController creates a controller. Without WithCacheBudget the
// budget defaults to the device tier derived from total RAM, and
// adaptive budgeting tracks available memory from there.
func NewController(opts ...Option) *StreamingController {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	budget := o.cacheBudget
	if budget <= 0 {
		budget = sysmem.TierBudget(o.memProvider)
	}

	lc := cache.New(budget, cache.Options{
		Logger:  o.logger.Logger,
		Metrics: o.cacheMetrics,
		Mem:     o.memProvider,
	})
	if o.adaptive {
		lc.SetAdaptive(true, o.adaptiveTarget, o.adaptiveMin, o.adaptiveMax)
	}

	return &StreamingController{
		cache:          lc,
		parser:         o.parser,
		flight:         new(singleflight.Group),
		hints:          semaphore.NewWeighted(maxPendingHints),
		prefetchRadius: o.prefetchRadius,
		httpClient:     o.httpClient,
		log:            o.logger,
	}
}

// OpenFile opens and indexes a G-code file on the local filesystem.
// Files ending in .gz are transparently decompressed to a spool file.
// Any previously open file is closed first.
func (sc *StreamingController) OpenFile(path string) error {
	var (
		src source.DataSource
		err error
	)
	if strings.HasSuffix(path, ".gz") {
		src, err = source.OpenGzipFile(path)
	} else {
		src, err = source.OpenFile(path)
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	return sc.OpenSource(src)
}

// OpenFileAsync opens and indexes in the background. IsIndexing reports
// true from before this returns until onComplete has been called with
// the outcome. onComplete may be nil.
func (sc *StreamingController) OpenFileAsync(path string, onComplete func(error)) {
	sc.indexing.Store(true)
	sc.progress.Store(0)
	go func() {
		err := sc.OpenFile(path)
		sc.indexing.Store(false)
		if onComplete != nil {
			onComplete(err)
		}
	}()
}

// OpenMoonraker opens a file served by a Moonraker instance, reading
// layers over HTTP range requests instead of downloading the file.
func (sc *StreamingController) OpenMoonraker(baseURL, gcodePath string) error {
	src, err := source.OpenMoonraker(baseURL, gcodePath, sc.httpClient)
	if err != nil {
		return fmt.Errorf("open moonraker %s: %w", gcodePath, err)
	}
	return sc.OpenSource(src)
}

// OpenSource indexes an already constructed data source and makes it
// the active session. On an index failure the source is closed and the
// controller stays in its previous closed state.
func (sc *StreamingController) OpenSource(src source.DataSource) error {
	sc.Close()

	sc.indexing.Store(true)
	defer sc.indexing.Store(false)

	idx, err := index.Build(src, func(p float64) {
		sc.progress.Store(math.Float64bits(p))
	})
	if err != nil {
		src.Close()
		sc.log.LogOpen(src.Name(), 0, src.Size(), err)
		return fmt.Errorf("index %s: %w", src.Name(), err)
	}

	sc.mu.Lock()
	sc.src = src
	sc.idx = idx
	sc.header = &headerState{}
	sc.flight = new(singleflight.Group)
	sc.hints = semaphore.NewWeighted(maxPendingHints)
	sc.gen.Add(1)
	sc.mu.Unlock()

	sc.cache.Clear()
	sc.cache.ResetStats()
	sc.open.Store(true)

	sc.log.LogOpen(src.Name(), idx.LayerCount(), src.Size(), nil)
	return nil
}

// Close releases the active session. Safe to call when nothing is open
// and safe to call more than once.
func (sc *StreamingController) Close() error {
	if !sc.open.Swap(false) {
		return nil
	}

	sc.mu.Lock()
	src := sc.src
	sc.src = nil
	sc.idx = nil
	sc.header = nil
	sc.gen.Add(1)
	sc.mu.Unlock()

	sc.cache.Clear()

	if src != nil {
		if err := src.Close(); err != nil {
			return fmt.Errorf("close %s: %w", src.Name(), err)
		}
	}
	return nil
}

// IsOpen reports whether a file is open and indexed.
func (sc *StreamingController) IsOpen() bool {
	return sc.open.Load()
}

// IsIndexing reports whether an index build is in progress.
func (sc *StreamingController) IsIndexing() bool {
	return sc.indexing.Load()
}

// IndexProgress returns the current index build progress in [0, 1].
// It is 1 once a file is open and 0 when nothing has been opened.
func (sc *StreamingController) IndexProgress() float64 {
	return math.Float64frombits(sc.progress.Load())
}

// SourceName returns the name of the open source, or "" when closed.
func (sc *StreamingController) SourceName() string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.src == nil {
		return ""
	}
	return sc.src.Name()
}

// FileSize returns the open file's size in bytes, or 0 when closed.
func (sc *StreamingController) FileSize() int64 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.src == nil {
		return 0
	}
	return sc.src.Size()
}

// GetLayerSegments returns the parsed segments of one layer, reading
// and parsing it on a cache miss. Concurrent requests for the same
// layer share a single load. A successful access also kicks off an
// asynchronous prefetch of the neighboring layers.
func (sc *StreamingController) GetLayerSegments(layer int) ([]gcode.Segment, error) {
	segs, err := sc.getSegments(layer, true)
	sc.log.LogLayerLoad(layer, len(segs), err == nil && sc.cache.IsCached(layer), err)
	return segs, err
}

// getSegments is GetLayerSegments without logging; triggerPrefetch
// false keeps prefetch loads from spawning further prefetches.
func (sc *StreamingController) getSegments(layer int, triggerPrefetch bool) ([]gcode.Segment, error) {
	sc.mu.RLock()
	src, idx, flight := sc.src, sc.idx, sc.flight
	gen := sc.gen.Load()
	sc.mu.RUnlock()

	if src == nil || idx == nil {
		return nil, ErrNotOpen
	}
	ent, ok := idx.Entry(layer)
	if !ok {
		return nil, fmt.Errorf("layer %d of %d: %w", layer, idx.LayerCount(), ErrLayerOutOfRange)
	}

	v, err, _ := flight.Do(strconv.Itoa(layer), func() (any, error) {
		res := sc.cache.GetOrLoad(layer, func(int) ([]gcode.Segment, error) {
			data, err := src.ReadRange(ent.Offset, int(ent.Length))
			if err != nil {
				return nil, &LoadError{Layer: layer, cause: err}
			}
			segs, err := sc.parser.Parse(data)
			if err != nil {
				return nil, err
			}
			// The session may have been replaced while the load ran
			// against the old source; its result must not enter the new
			// session's cache.
			if sc.gen.Load() != gen {
				return nil, ErrNotOpen
			}
			return segs, nil
		})
		return res.Segments, res.Err
	})
	if err != nil {
		return nil, err
	}

	if triggerPrefetch && sc.prefetchRadius > 0 {
		go sc.PrefetchAround(layer)
	}
	return v.([]gcode.Segment), nil
}

// RequestLayer hints that a layer will be wanted soon. The load runs in
// the background; when too many hints are already in flight the hint is
// dropped. Errors are absorbed, the eventual GetLayerSegments reports
// them.
func (sc *StreamingController) RequestLayer(layer int) {
	if !sc.open.Load() || sc.cache.IsCached(layer) {
		return
	}
	sc.mu.RLock()
	hints := sc.hints
	sc.mu.RUnlock()
	if !hints.TryAcquire(1) {
		return
	}
	go func() {
		defer hints.Release(1)
		sc.getSegments(layer, false)
	}()
}

// PrefetchAround synchronously loads the layers within the prefetch
// radius of center, a bounded number at a time. Layers already cached
// cost one lookup. Individual load failures are skipped.
func (sc *StreamingController) PrefetchAround(center int) {
	sc.mu.RLock()
	idx := sc.idx
	sc.mu.RUnlock()
	if idx == nil {
		return
	}

	start := max(center-sc.prefetchRadius, 0)
	end := min(center+sc.prefetchRadius, idx.LayerCount()-1)

	var g errgroup.Group
	g.SetLimit(maxConcurrentPrefetch)
	for i := start; i <= end; i++ {
		if i == center {
			continue
		}
		layer := i
		g.Go(func() error {
			sc.getSegments(layer, false)
			return nil
		})
	}
	g.Wait()
}

// IsLayerCached reports whether a layer is resident in the cache.
func (sc *StreamingController) IsLayerCached(layer int) bool {
	return sc.cache.IsCached(layer)
}

// LayerCount returns the number of indexed layers, 0 when closed.
func (sc *StreamingController) LayerCount() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.idx == nil {
		return 0
	}
	return sc.idx.LayerCount()
}

// LayerZ returns the Z height of a layer, 0 when closed or invalid.
func (sc *StreamingController) LayerZ(layer int) float32 {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.idx == nil {
		return 0
	}
	return sc.idx.Z(layer)
}

// FindLayerAtZ returns the layer nearest the given Z height, or -1
// when nothing is open.
func (sc *StreamingController) FindLayerAtZ(z float32) int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.idx == nil {
		return -1
	}
	return sc.idx.FindByZ(z)
}

// IndexStats returns statistics of the last index build.
func (sc *StreamingController) IndexStats() index.Stats {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	if sc.idx == nil {
		return index.Stats{}
	}
	return sc.idx.Stats()
}

// HeaderMetadata returns slicer metadata parsed from the file header,
// or nil when nothing is open. The header is read and parsed once per
// session, on first call.
func (sc *StreamingController) HeaderMetadata() *gcode.HeaderMetadata {
	sc.mu.RLock()
	src, hs := sc.src, sc.header
	sc.mu.RUnlock()
	if src == nil || hs == nil {
		return nil
	}

	hs.once.Do(func() {
		data, err := src.ReadRange(0, headerProbeBytes)
		if err != nil {
			sc.log.Warn("header probe failed", "source", src.Name(), "error", err)
			return
		}
		hs.meta = gcode.ExtractHeaderMetadata(data)
	})
	return hs.meta
}

// CacheHitRate returns hits / (hits + misses) for the open session.
func (sc *StreamingController) CacheHitRate() float64 {
	return sc.cache.HitRate()
}

// CacheMemoryUsage returns the bytes charged for cached layers.
func (sc *StreamingController) CacheMemoryUsage() int64 {
	return sc.cache.Usage()
}

// CacheBudget returns the current cache byte budget.
func (sc *StreamingController) CacheBudget() int64 {
	return sc.cache.Budget()
}

// SetCacheBudget pins the cache budget, evicting immediately when
// shrinking. It does not disable adaptive mode; an adaptive check may
// later move the budget again.
func (sc *StreamingController) SetCacheBudget(bytes int64) {
	sc.cache.SetBudget(bytes)
}

// SetAdaptiveCache reconfigures adaptive budgeting at runtime.
func (sc *StreamingController) SetAdaptiveCache(enabled bool, targetPercent int, minBudget, maxBudget int64) {
	sc.cache.SetAdaptive(enabled, targetPercent, minBudget, maxBudget)
}

// ClearCache drops all cached layers without touching the budget.
func (sc *StreamingController) ClearCache() {
	sc.cache.Clear()
}

// RespondToMemoryPressure halves the cache budget and evicts
// immediately. Intended for callers reacting to an external low-memory
// signal.
func (sc *StreamingController) RespondToMemoryPressure() {
	sc.cache.RespondToPressure(0.5)
}
