// Package metrics exports scan and query metrics in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lograg/internal/domain"
)

const namespace = "lograg"

// Recorder holds the collectors on a private registry. A nil *Recorder records nothing, so
// components can take one optionally.
type Recorder struct {
	registry *prometheus.Registry

	scanFiles    *prometheus.CounterVec
	scanEntries  prometheus.Counter
	scanDuration *prometheus.HistogramVec

	queryDuration  prometheus.Histogram
	queryErrors    *prometheus.CounterVec
	streamedTokens prometheus.Counter

	toolCalls *prometheus.CounterVec
}

// Config configures the recorder.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	}
}

// New creates a recorder and registers its collectors.
func New(cfg Config) *Recorder {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	r := &Recorder{registry: registry}

	r.scanFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "files_total",
			Help:      "Files visited by scans, by outcome",
		},
		[]string{"status"},
	)
	r.scanEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "entries_indexed_total",
			Help:      "Log entries embedded and added to the index",
		},
	)
	r.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Scan duration in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"outcome"},
	)
	r.queryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Question answering latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)
	r.queryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "errors_total",
			Help:      "Failed questions by error kind",
		},
		[]string{"kind"},
	)
	r.streamedTokens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "streamed_tokens_total",
			Help:      "Completion tokens forwarded to a stream consumer",
		},
	)
	r.toolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Tool calls dispatched, by tool and status",
		},
		[]string{"tool", "status"},
	)

	registry.MustRegister(
		r.scanFiles,
		r.scanEntries,
		r.scanDuration,
		r.queryDuration,
		r.queryErrors,
		r.streamedTokens,
		r.toolCalls,
	)
	return r
}

// File statuses reported by the scanner.
const (
	FileIndexed = "indexed"
	FileSkipped = "skipped"
	FileNoMatch = "no_match"
)

func (r *Recorder) RecordFile(status string) {
	if r == nil {
		return
	}
	r.scanFiles.WithLabelValues(status).Inc()
}

// RecordScan records a finished scan. outcome is "built", "reused" or "failed".
func (r *Recorder) RecordScan(outcome string, entries int, d time.Duration) {
	if r == nil {
		return
	}
	r.scanEntries.Add(float64(entries))
	r.scanDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordQuery records a finished question; a non-nil err is counted by kind.
func (r *Recorder) RecordQuery(d time.Duration, err error) {
	if r == nil {
		return
	}
	r.queryDuration.Observe(d.Seconds())
	if err != nil {
		r.queryErrors.WithLabelValues(ErrorKind(err)).Inc()
	}
}

func (r *Recorder) RecordToken() {
	if r == nil {
		return
	}
	r.streamedTokens.Inc()
}

func (r *Recorder) RecordToolCall(tool string, success bool) {
	if r == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	r.toolCalls.WithLabelValues(tool, status).Inc()
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ErrorKind maps an error to a low-cardinality label value.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrIndexNotFound):
		return "index_not_found"
	case errors.Is(err, domain.ErrIndexCorrupt):
		return "index_corrupt"
	case errors.Is(err, domain.ErrIndexLocked):
		return "index_locked"
	case errors.Is(err, domain.ErrModelMismatch):
		return "model_mismatch"
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return "embedding_unavailable"
	case errors.Is(err, domain.ErrCompletionUnavailable):
		return "completion_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
