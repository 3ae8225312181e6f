// Package prom exports poscache.Metrics to Prometheus.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/poscache"
)

// Adapter implements poscache.Metrics. Collection ids become label values,
// so keep their cardinality bounded.
type Adapter struct {
	hits       *prometheus.CounterVec
	misses     *prometheus.CounterVec
	computed   *prometheus.CounterVec
	computeDur *prometheus.HistogramVec
	seqLen     prometheus.Histogram
	deferred   *prometheus.CounterVec
	degraded   *prometheus.CounterVec
	staleDrops *prometheus.CounterVec
	evicts     *prometheus.CounterVec
}

// New constructs the adapter and registers its collectors.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels)
	}
	a := &Adapter{
		hits:     counter("hits_total", "Sequences served from storage", "collection"),
		misses:   counter("misses_total", "Lookups that found no current sequence", "collection"),
		computed: counter("computed_total", "Sequences balanced", "collection"),
		computeDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "compute_seconds",
			Help:        "Time spent balancing a collection",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 4, 8),
			ConstLabels: constLabels,
		}, []string{"collection"}),
		seqLen: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "sequence_length",
			Help:        "Number of ids in computed sequences",
			Buckets:     prometheus.ExponentialBuckets(10, 4, 8),
			ConstLabels: constLabels,
		}),
		deferred:   counter("deferred_total", "Computations handed to the executor", "collection"),
		degraded:   counter("storage_degraded_total", "Storage operations that failed", "op"),
		staleDrops: counter("stale_writes_dropped_total", "Results not stored because the generation moved", "collection"),
		evicts:     counter("evictions_total", "Entries removed on read by reason", "reason"),
	}
	reg.MustRegister(a.hits, a.misses, a.computed, a.computeDur, a.seqLen,
		a.deferred, a.degraded, a.staleDrops, a.evicts)
	return a
}

func (a *Adapter) Hit(c string)  { a.hits.WithLabelValues(c).Inc() }
func (a *Adapter) Miss(c string) { a.misses.WithLabelValues(c).Inc() }

func (a *Adapter) Computed(c string, took time.Duration, size int) {
	a.computed.WithLabelValues(c).Inc()
	a.computeDur.WithLabelValues(c).Observe(took.Seconds())
	a.seqLen.Observe(float64(size))
}

func (a *Adapter) Deferred(c string)          { a.deferred.WithLabelValues(c).Inc() }
func (a *Adapter) Degraded(op string)         { a.degraded.WithLabelValues(op).Inc() }
func (a *Adapter) StaleWriteDropped(c string) { a.staleDrops.WithLabelValues(c).Inc() }
func (a *Adapter) Evicted(reason string)      { a.evicts.WithLabelValues(reason).Inc() }

var _ poscache.Metrics = (*Adapter)(nil)
