// Package metrics holds the Prometheus instruments for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every instrument; one instance is created per process in
// the composition root and threaded into the components that record.
type Metrics struct {
	// Gateway
	IngestTotal *prometheus.CounterVec

	// Worker
	RecordsConsumed *prometheus.CounterVec
	ReviewDuration  *prometheus.HistogramVec

	// LLM
	LLMStreamDuration *prometheus.HistogramVec
	LLMFailures       *prometheus.CounterVec

	// Sandbox
	SandboxRuns     *prometheus.CounterVec
	SandboxDuration *prometheus.HistogramVec

	// Publisher
	CommentPublishRetries prometheus.Counter
}

// New creates and registers all instruments on the default registry.
func New() *Metrics {
	return &Metrics{
		IngestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redpen_ingest_total",
				Help: "Webhook ingestion outcomes",
			},
			[]string{"outcome"}, // accepted, replay, publish_error
		),
		RecordsConsumed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redpen_stream_records_total",
				Help: "Stream records handled by workers",
			},
			[]string{"stream", "outcome"}, // acked, poisoned, failed
		),
		ReviewDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redpen_review_duration_seconds",
				Help:    "End-to-end orchestration time per request",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"mode", "status"},
		),
		LLMStreamDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redpen_llm_stream_duration_seconds",
				Help:    "Wall time of one streamed completion",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		LLMFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redpen_llm_failures_total",
				Help: "LLM call failures by kind",
			},
			[]string{"kind"}, // timeout, schema_violation, transport
		),
		SandboxRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redpen_sandbox_runs_total",
				Help: "Container analysis runs by framework and outcome",
			},
			[]string{"framework", "outcome"}, // ok, failed, timeout
		),
		SandboxDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redpen_sandbox_duration_seconds",
				Help:    "Wall time of one sandboxed tool run",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"framework"},
		),
		CommentPublishRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "redpen_comment_publish_retries_total",
				Help: "Retried SCM comment publications",
			},
		),
	}
}

func (m *Metrics) RecordIngest(outcome string) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordStreamRecord(stream, outcome string) {
	if m == nil {
		return
	}
	m.RecordsConsumed.WithLabelValues(stream, outcome).Inc()
}

func (m *Metrics) RecordReview(mode, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ReviewDuration.WithLabelValues(mode, status).Observe(seconds)
}

func (m *Metrics) RecordLLMStream(model string, seconds float64) {
	if m == nil {
		return
	}
	m.LLMStreamDuration.WithLabelValues(model).Observe(seconds)
}

func (m *Metrics) RecordLLMFailure(kind string) {
	if m == nil {
		return
	}
	m.LLMFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordCommentPublishRetry() {
	if m == nil {
		return
	}
	m.CommentPublishRetries.Inc()
}

func (m *Metrics) RecordSandboxRun(framework, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.SandboxRuns.WithLabelValues(framework, outcome).Inc()
	m.SandboxDuration.WithLabelValues(framework).Observe(seconds)
}
