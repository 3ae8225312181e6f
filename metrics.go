package poscache

import "time"

// Metrics receives counters from the cache. metrics/prom exports them to
// Prometheus.
type Metrics interface {
	Hit(collection string)
	Miss(collection string)
	Computed(collection string, took time.Duration, size int)
	Deferred(collection string)
	Degraded(op string)
	StaleWriteDropped(collection string)
	Evicted(reason string)
}

type NoopMetrics struct{}

func (NoopMetrics) Hit(string)                          {}
func (NoopMetrics) Miss(string)                         {}
func (NoopMetrics) Computed(string, time.Duration, int) {}
func (NoopMetrics) Deferred(string)                     {}
func (NoopMetrics) Degraded(string)                     {}
func (NoopMetrics) StaleWriteDropped(string)            {}
func (NoopMetrics) Evicted(string)                      {}
