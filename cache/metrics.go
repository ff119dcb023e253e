package cache

// EvictReason labels why an entry left the cache.
type EvictReason uint8

const (
	// EvictCapacity: evicted to make room for a new entry.
	EvictCapacity EvictReason = iota
	// EvictShrink: evicted because the budget was lowered.
	EvictShrink
	// EvictPressure: evicted by an adaptive or emergency pressure response.
	EvictPressure
	// EvictManual: evicted by an explicit Evict or Clear call.
	EvictManual
)

// Metrics receives cache events for observability backends.
// Implementations must be safe for concurrent use and must not call
// back into the cache: callbacks can fire while the cache's internal
// lock is held. See metrics/prom for a Prometheus adapter.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, bytes int64)
}

// NoopMetrics is the default Metrics implementation; it does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                      {}
func (NoopMetrics) Miss()                     {}
func (NoopMetrics) Evict(EvictReason)         {}
func (NoopMetrics) Size(entries int, b int64) {}

var _ Metrics = NoopMetrics{}
