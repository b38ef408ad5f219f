package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics centralizes the Prometheus instrumentation for the cataloger: the
// sandbox pool's hot path, the two LLM-backed agent phases, and the HTTP
// surface that fronts a catalog run. Construct once at process start with
// NewMetrics and share the instance across the pool, loop, and server.
type Metrics struct {
	// SandboxPoolSize tracks live sandboxes (idle + in-use).
	SandboxPoolSize prometheus.Gauge

	// SandboxAcquireTotal counts Pool.Acquire outcomes.
	// Labels: status (success|exhausted|lost)
	SandboxAcquireTotal *prometheus.CounterVec

	// SandboxReleaseTotal counts Pool.Release calls.
	SandboxReleaseTotal prometheus.Counter

	// SandboxReclaimedTotal counts idle sandboxes stopped by Pool.Cleanup.
	SandboxReclaimedTotal prometheus.Counter

	// LLMRequestDuration measures provider Complete() latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestTotal counts provider Complete() calls by outcome.
	// Labels: provider, model, status (success|error)
	LLMRequestTotal *prometheus.CounterVec

	// LLMTokensTotal tracks cumulative token usage.
	// Labels: provider, model, kind (input|output)
	LLMTokensTotal *prometheus.CounterVec

	// ToolExecutionTotal counts agent tool dispatches.
	// Labels: tool_name, status (success|error|rejected)
	ToolExecutionTotal *prometheus.CounterVec

	// WorkflowRunTotal counts completed catalog workflow runs.
	// Labels: status (success|error)
	WorkflowRunTotal *prometheus.CounterVec

	// WorkflowRunDuration measures end-to-end workflow run latency.
	WorkflowRunDuration prometheus.Histogram

	// HTTPRequestTotal counts served HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestTotal *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP handler latency in seconds.
	// Labels: method, path
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers every metric with the default registry.
// Call once at process start; the returned *Metrics is safe for concurrent
// use across goroutines.
func NewMetrics() *Metrics {
	return &Metrics{
		SandboxPoolSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "cataloger_sandbox_pool_size",
			Help: "Current number of sandboxes tracked by the pool (idle + in-use)",
		}),
		SandboxAcquireTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cataloger_sandbox_acquire_total",
			Help: "Total sandbox pool acquisitions by outcome",
		}, []string{"status"}),
		SandboxReleaseTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cataloger_sandbox_release_total",
			Help: "Total sandboxes returned to the pool",
		}),
		SandboxReclaimedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "cataloger_sandbox_reclaimed_total",
			Help: "Total idle sandboxes stopped for exceeding the idle timeout",
		}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cataloger_llm_request_duration_seconds",
			Help:    "Duration of LLM provider completion calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"provider", "model"}),
		LLMRequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cataloger_llm_requests_total",
			Help: "Total LLM provider completion calls by outcome",
		}, []string{"provider", "model", "status"}),
		LLMTokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cataloger_llm_tokens_total",
			Help: "Total tokens consumed by provider, model, and direction",
		}, []string{"provider", "model", "kind"}),
		ToolExecutionTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cataloger_tool_executions_total",
			Help: "Total agent tool dispatches by tool name and outcome",
		}, []string{"tool_name", "status"}),
		WorkflowRunTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cataloger_workflow_runs_total",
			Help: "Total catalog workflow runs by outcome",
		}, []string{"status"}),
		WorkflowRunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "cataloger_workflow_run_duration_seconds",
			Help:    "Duration of an entire catalog workflow run",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		HTTPRequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "cataloger_http_requests_total",
			Help: "Total HTTP requests served by the cataloger API",
		}, []string{"method", "path", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cataloger_http_request_duration_seconds",
			Help:    "Duration of HTTP requests served by the cataloger API",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "path"}),
	}
}

// RecordAcquire records a Pool.Acquire outcome.
func (m *Metrics) RecordAcquire(status string) {
	if m == nil {
		return
	}
	m.SandboxAcquireTotal.WithLabelValues(status).Inc()
}

// RecordRelease records a Pool.Release call.
func (m *Metrics) RecordRelease() {
	if m == nil {
		return
	}
	m.SandboxReleaseTotal.Inc()
}

// RecordReclaimed records one idle sandbox stopped by Cleanup.
func (m *Metrics) RecordReclaimed() {
	if m == nil {
		return
	}
	m.SandboxReclaimedTotal.Inc()
}

// SetPoolSize sets the current pool size gauge.
func (m *Metrics) SetPoolSize(n int) {
	if m == nil {
		return
	}
	m.SandboxPoolSize.Set(float64(n))
}

// RecordLLMRequest records one provider Complete() call.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMRequestTotal.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensTotal.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensTotal.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordToolExecution records one agent tool dispatch.
func (m *Metrics) RecordToolExecution(toolName, status string) {
	if m == nil {
		return
	}
	m.ToolExecutionTotal.WithLabelValues(toolName, status).Inc()
}

// RecordWorkflowRun records one completed catalog workflow run.
func (m *Metrics) RecordWorkflowRun(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.WorkflowRunTotal.WithLabelValues(status).Inc()
	m.WorkflowRunDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(durationSeconds)
}
