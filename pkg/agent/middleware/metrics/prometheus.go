package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by model, workflow, agent, state, and status",
			},
			[]string{"model", "workflow_id", "agent", "state", "status", "error_type"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "workflow_id", "agent", "state", "type"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "workflow_id", "agent", "state"},
		),
	}
}

// ObserveRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveRequest(
	model, workflowID, agentName, state string,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}

	p.requestsTotal.WithLabelValues(model, workflowID, agentName, state, status, errorType).Inc()

	// Tokens only count on success; a failed call has no usable completion.
	if success {
		p.tokensTotal.WithLabelValues(model, workflowID, agentName, state, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, workflowID, agentName, state, "completion").Add(float64(completionTokens))
	}

	p.requestDuration.WithLabelValues(model, workflowID, agentName, state).Observe(duration.Seconds())
}
