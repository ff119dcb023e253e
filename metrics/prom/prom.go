// Package prom exports layer-cache metrics to Prometheus.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/helixtouch/layerstream/cache"
)

// Adapter implements cache.Metrics on Prometheus counters/gauges.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evicts    *prometheus.CounterVec
	sizeEnt   prometheus.Gauge
	sizeBytes prometheus.Gauge
}

// New constructs and registers the adapter.
//   - reg: registry to register with (nil => prometheus.DefaultRegisterer)
//   - constLabels: static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "layerstream",
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "Layer cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "layerstream",
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "Layer cache misses",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   "layerstream",
				Subsystem:   "cache",
				Name:        "evictions_total",
				Help:        "Layer cache evictions by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "layerstream",
			Subsystem:   "cache",
			Name:        "resident_layers",
			Help:        "Number of cached layers",
			ConstLabels: constLabels,
		}),
		sizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "layerstream",
			Subsystem:   "cache",
			Name:        "resident_bytes",
			Help:        "Estimated bytes held by cached layers",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.sizeEnt, a.sizeBytes)
	return a
}

func (a *Adapter) Hit()  { a.hits.Inc() }
func (a *Adapter) Miss() { a.misses.Inc() }

func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(reason(r)).Inc()
}

func (a *Adapter) Size(entries int, bytes int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeBytes.Set(float64(bytes))
}

// reason maps EvictReason to a stable label value.
func reason(r cache.EvictReason) string {
	switch r {
	case cache.EvictCapacity:
		return "capacity"
	case cache.EvictShrink:
		return "shrink"
	case cache.EvictPressure:
		return "pressure"
	default:
		return "manual"
	}
}

var _ cache.Metrics = (*Adapter)(nil)
