package layerstream

import (
	"net/http"

	"github.com/helixtouch/layerstream/cache"
	"github.com/helixtouch/layerstream/gcode"
	"github.com/helixtouch/layerstream/sysmem"
)

type options struct {
	cacheBudget    int64 // 0 = derive from device tier
	adaptive       bool
	adaptiveTarget int
	adaptiveMin    int64
	adaptiveMax    int64
	prefetchRadius int
	parser         gcode.Parser
	logger         *Logger
	cacheMetrics   cache.Metrics
	memProvider    sysmem.Provider
	httpClient     *http.Client
}

func defaultOptions() *options {
	return &options{
		adaptive:       true,
		adaptiveTarget: DefaultAdaptiveTargetPercent,
		adaptiveMin:    MinCacheBudget,
		adaptiveMax:    BudgetNormal,
		prefetchRadius: DefaultPrefetchRadius,
		parser:         gcode.NewLineParser(),
		logger:         NoopLogger(),
		memProvider:    sysmem.System(),
	}
}

// Option configures a StreamingController.
type Option func(*options)

// WithCacheBudget sets a fixed cache budget in bytes instead of the
// device-tier default.
func WithCacheBudget(bytes int64) Option {
	return func(o *options) {
		o.cacheBudget = bytes
	}
}

// WithAdaptiveCache tunes adaptive budgeting: targetPercent of
// available RAM, clamped to [minBudget, maxBudget].
func WithAdaptiveCache(targetPercent int, minBudget, maxBudget int64) Option {
	return func(o *options) {
		o.adaptive = true
		o.adaptiveTarget = targetPercent
		o.adaptiveMin = minBudget
		o.adaptiveMax = maxBudget
	}
}

// WithoutAdaptiveCache pins the budget: no automatic adjustment to
// system memory.
func WithoutAdaptiveCache() Option {
	return func(o *options) {
		o.adaptive = false
	}
}

// WithPrefetchRadius sets how many layers each side of an accessed
// layer are preloaded.
func WithPrefetchRadius(radius int) Option {
	return func(o *options) {
		if radius >= 0 {
			o.prefetchRadius = radius
		}
	}
}

// WithParser replaces the built-in line parser.
func WithParser(p gcode.Parser) Option {
	return func(o *options) {
		if p != nil {
			o.parser = p
		}
	}
}

// WithLogger sets the logger. The default discards all output.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCacheMetrics wires a metrics backend (see metrics/prom).
func WithCacheMetrics(m cache.Metrics) Option {
	return func(o *options) {
		o.cacheMetrics = m
	}
}

// WithMemProvider injects a memory-info provider, mainly for tests.
func WithMemProvider(p sysmem.Provider) Option {
	return func(o *options) {
		if p != nil {
			o.memProvider = p
		}
	}
}

// WithHTTPClient sets the client used for Moonraker range requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}
