package qcache

import (
	"time"

	metrics "github.com/armon/go-metrics"
)

// Metrics emits the ambient observability counters a production cache
// library in this lineage carries even though a metrics *subsystem* (with
// exporters, labels, dashboards) is out of scope (SPEC_FULL.md §10.5). A
// nil *Metrics is valid and a no-op, so components that don't wire one
// explicitly stay inert.
type Metrics struct {
	sink    *metrics.InmemSink
	metrics *metrics.Metrics
}

// NewMetrics constructs a Metrics that keeps samples in memory in
// 10-second intervals, retaining the last minute of them; callers that want to export elsewhere can read sink data via
// Sink().
func NewMetrics(serviceName string) (*Metrics, error) {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	cfg := metrics.DefaultConfig(serviceName)
	cfg.EnableHostname = false
	m, err := metrics.NewGlobal(cfg, sink)
	if err != nil {
		return nil, err
	}
	return &Metrics{sink: sink, metrics: m}, nil
}

// Sink exposes the underlying in-memory sink for tests/diagnostics.
func (m *Metrics) Sink() *metrics.InmemSink {
	if m == nil {
		return nil
	}
	return m.sink
}

func (m *Metrics) IncrCacheHit() {
	if m != nil {
		m.metrics.IncrCounter([]string{"qcache", "cache", "hit"}, 1)
	}
}

func (m *Metrics) IncrCacheMiss() {
	if m != nil {
		m.metrics.IncrCounter([]string{"qcache", "cache", "miss"}, 1)
	}
}

func (m *Metrics) IncrFetchAttempt() {
	if m != nil {
		m.metrics.IncrCounter([]string{"qcache", "fetch", "attempt"}, 1)
	}
}

func (m *Metrics) IncrFetchRetry() {
	if m != nil {
		m.metrics.IncrCounter([]string{"qcache", "fetch", "retry"}, 1)
	}
}

func (m *Metrics) AddNotifyBatchSize(n int) {
	if m != nil {
		m.metrics.AddSample([]string{"qcache", "notify", "batch_size"}, float32(n))
	}
}
