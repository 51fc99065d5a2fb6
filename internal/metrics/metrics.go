package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP requests by method, route, and status code.
	// Streams cut short are counted with status "aborted".
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icdcoder_requests_total",
		Help: "Total HTTP requests processed.",
	}, []string{"method", "path", "status"})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "icdcoder_requests_in_flight",
		Help: "HTTP requests currently being served, open streams included.",
	})

	// CompletionDuration tracks end-to-end generation latency per model and
	// response mode (stream or buffered).
	CompletionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "icdcoder_completion_duration_seconds",
		Help:    "Time spent waiting on the model for one feedback request.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"model", "mode"})

	// FeedbackChars tracks the distribution of submitted feedback lengths.
	FeedbackChars = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "icdcoder_feedback_chars",
		Help:    "Number of characters in submitted feedback text.",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	StreamChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icdcoder_stream_chunks_total",
		Help: "Text chunks forwarded to clients in streaming mode.",
	}, []string{"model"})

	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "icdcoder_upstream_errors_total",
		Help: "Failed calls to the model provider.",
	}, []string{"model"})

	// AdapterAvailable tracks whether each adapter is reachable.
	AdapterAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "icdcoder_adapter_available",
		Help: "Whether an LLM adapter is available (1) or not (0).",
	}, []string{"adapter"})
)
