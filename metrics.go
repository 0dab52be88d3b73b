package parawork

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors the runner updates as it
// processes records. They are registered on a caller-supplied registry
// rather than the global default one.
type Metrics struct {
	MessagesProcessed prometheus.Counter
	MessagesFailed    prometheus.Counter
	OffsetsCommitted  prometheus.Counter
	InFlight          prometheus.Gauge
	ShardCount        prometheus.Gauge
	CodecPayloadBytes prometheus.Histogram
}

// NewMetrics creates and registers the runner's collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parawork_messages_processed_total",
			Help: "Records that completed processing successfully.",
		}),
		MessagesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parawork_messages_failed_total",
			Help: "Failed processing attempts, counted once per attempt including retried ones.",
		}),
		OffsetsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parawork_offsets_committed_total",
			Help: "Partition offset commits sent to the broker.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parawork_inflight_work",
			Help: "Work containers currently dispatched to a worker.",
		}),
		ShardCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "parawork_shard_count",
			Help: "Live shards in the work manager's shard map.",
		}),
		CodecPayloadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parawork_offset_map_payload_bytes",
			Help:    "Size of the chosen offset-map codec's wire payload.",
			Buckets: prometheus.ExponentialBuckets(4, 2, 12),
		}),
	}
	reg.MustRegister(
		m.MessagesProcessed, m.MessagesFailed, m.OffsetsCommitted,
		m.InFlight, m.ShardCount, m.CodecPayloadBytes,
	)
	return m
}

// Observe samples the engine's current state into the gauges. Call it
// from a ticker alongside the commit loop.
func (m *Metrics) Observe(e *Engine) {
	m.ShardCount.Set(float64(e.shards.ShardCount()))
	e.mu.RLock()
	m.InFlight.Set(float64(e.inFlight))
	e.mu.RUnlock()
}

// RecordCommitPlans updates counters from a completed commit pass.
func (m *Metrics) RecordCommitPlans(plans []PartitionPlan) {
	committed := 0
	for _, p := range plans {
		if len(p.Metadata) > 0 {
			m.CodecPayloadBytes.Observe(float64(len(p.Metadata)))
		}
		committed++
	}
	m.OffsetsCommitted.Add(float64(committed))
}

// Expose serves the registered collectors over HTTP at /metrics.
func Expose(reg *prometheus.Registry, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
	}()
}
