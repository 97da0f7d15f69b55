// Package observability provides Prometheus metrics and OpenTelemetry spans
// for the meeting pipeline, the extraction tasks and the memory index.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Task and stage outcome label values.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Metrics holds all Prometheus metrics for meetmem. All Record methods are
// safe to call on a nil *Metrics.
type Metrics struct {
	// Pipeline metrics
	StageSeconds       *prometheus.HistogramVec
	StageFailuresTotal *prometheus.CounterVec
	RunsTotal          *prometheus.CounterVec

	// Analysis metrics
	ExtractionTasksTotal  *prometheus.CounterVec
	ExtractionTaskSeconds *prometheus.HistogramVec
	PromptTokens          *prometheus.HistogramVec
	CompletionTokensTotal *prometheus.CounterVec

	// Memory metrics
	RecordsIndexedTotal *prometheus.CounterVec
	IndexOpSeconds      *prometheus.HistogramVec
	IndexErrorsTotal    *prometheus.CounterVec
}

// DefaultMetrics creates metrics registered with the default registerer.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics creates a new set of metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetmem_stage_seconds",
				Help:    "Duration of each pipeline stage",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
			},
			[]string{"stage"},
		),
		StageFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetmem_stage_failures_total",
				Help: "Pipeline stage failures by error code",
			},
			[]string{"stage", "code"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetmem_runs_total",
				Help: "Pipeline runs by outcome",
			},
			[]string{"status"},
		),
		ExtractionTasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetmem_extraction_tasks_total",
				Help: "Extraction task outcomes",
			},
			[]string{"task", "status"},
		),
		ExtractionTaskSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetmem_extraction_task_seconds",
				Help:    "Extraction task latency",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"task"},
		),
		PromptTokens: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetmem_prompt_tokens",
				Help:    "Prompt size in tokens per extraction task",
				Buckets: prometheus.ExponentialBuckets(256, 2, 10),
			},
			[]string{"task"},
		),
		CompletionTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetmem_completion_tokens_total",
				Help: "Tokens reported by the generation service",
			},
			[]string{"task", "direction"},
		),
		RecordsIndexedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetmem_records_indexed_total",
				Help: "Memory records written per section",
			},
			[]string{"section"},
		),
		IndexOpSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meetmem_index_operation_seconds",
				Help:    "Memory index operation latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		IndexErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meetmem_index_errors_total",
				Help: "Memory index operations that failed",
			},
			[]string{"operation"},
		),
	}
}

// RecordStage records a stage duration and, on failure, its error code.
func (m *Metrics) RecordStage(stage string, elapsed time.Duration, code string) {
	if m == nil {
		return
	}
	m.StageSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
	if code != "" {
		m.StageFailuresTotal.WithLabelValues(stage, code).Inc()
	}
}

// RecordRun records the outcome of a whole pipeline run.
func (m *Metrics) RecordRun(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

// RecordTask records an extraction task outcome and latency.
func (m *Metrics) RecordTask(task, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ExtractionTasksTotal.WithLabelValues(task, status).Inc()
	m.ExtractionTaskSeconds.WithLabelValues(task).Observe(elapsed.Seconds())
}

// RecordPromptTokens records the prompt size of an extraction task.
func (m *Metrics) RecordPromptTokens(task string, tokens int) {
	if m == nil {
		return
	}
	m.PromptTokens.WithLabelValues(task).Observe(float64(tokens))
}

// RecordUsage records token usage reported by the generation service.
func (m *Metrics) RecordUsage(task string, input, output int) {
	if m == nil {
		return
	}
	m.CompletionTokensTotal.WithLabelValues(task, "input").Add(float64(input))
	m.CompletionTokensTotal.WithLabelValues(task, "output").Add(float64(output))
}

// RecordIndexed counts records written for a section.
func (m *Metrics) RecordIndexed(section string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsIndexedTotal.WithLabelValues(section).Add(float64(n))
}

// RecordIndexOp records a memory index operation's latency and failure.
func (m *Metrics) RecordIndexOp(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.IndexOpSeconds.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.IndexErrorsTotal.WithLabelValues(op).Inc()
	}
}
