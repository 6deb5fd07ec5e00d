// Package metrics exposes the Prometheus gauges/counters/histograms for
// the flush path, following the promauto registration style used
// elsewhere in the pack.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide collector set, constructed once at
// startup and threaded through the buffer controller, agent loop, and
// store gateways.
type Metrics struct {
	// PendingQueueDepth tracks the number of pending messages per
	// session at admission time.
	PendingQueueDepth *prometheus.GaugeVec

	// FlushDuration measures wall-clock time for one buffer-controller
	// flush (lock acquire through commit).
	FlushDuration *prometheus.HistogramVec

	// FlushCounter counts flushes by outcome (success|failed|overflow).
	FlushCounter *prometheus.CounterVec

	// LockWaitDuration measures time spent waiting to acquire the
	// per-session lock.
	LockWaitDuration prometheus.Histogram

	// LockContention counts TryAcquire calls that found the lock
	// already held.
	LockContention prometheus.Counter

	// LLMRequestDuration measures one provider.Chat call.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider/model/status.
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption by provider/model/kind.
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionDuration measures one tool's Execute call.
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool calls by name/status.
	ToolExecutionCounter *prometheus.CounterVec

	// TaskAgentIterations records how many loop iterations a flush used.
	TaskAgentIterations prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		PendingQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskloom_pending_queue_depth",
				Help: "Number of pending messages observed for a session at admission time",
			},
			[]string{"session_id"},
		),
		FlushDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskloom_flush_duration_seconds",
				Help:    "Duration of a buffer-controller flush from lock acquire to commit",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),
		FlushCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskloom_flushes_total",
				Help: "Total number of flushes by outcome",
			},
			[]string{"outcome"},
		),
		LockWaitDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskloom_lock_wait_duration_seconds",
				Help:    "Time spent waiting to acquire the session lock",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
		),
		LockContention: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskloom_lock_contention_total",
				Help: "Number of lock acquisition attempts that found the lock already held",
			},
		),
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskloom_llm_request_duration_seconds",
				Help:    "Duration of LLM completion requests",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskloom_llm_requests_total",
				Help: "Total LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskloom_llm_tokens_total",
				Help: "Total tokens used by provider, model, and kind",
			},
			[]string{"provider", "model", "kind"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskloom_tool_execution_duration_seconds",
				Help:    "Duration of tool executions",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"tool_name"},
		),
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskloom_tool_executions_total",
				Help: "Total tool executions by name and status",
			},
			[]string{"tool_name", "status"},
		),
		TaskAgentIterations: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskloom_task_agent_iterations",
				Help:    "Number of agent-loop iterations used per flush",
				Buckets: []float64{1, 2, 3, 4, 5, 8, 12},
			},
		),
	}
}
