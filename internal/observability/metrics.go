// Package observability wires Prometheus metrics, an OpenTelemetry tracer
// provider, and the control-plane HTTP surface (/healthz, /metrics,
// /v1/router/:botID/snapshot).
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

var (
	botStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discord_agents_bot_state_transitions_total",
			Help: "Total number of bot lifecycle state transitions observed by the reconciler",
		},
		[]string{"bot_id", "to_state"},
	)

	reconcilerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "discord_agents_reconciler_tick_duration_seconds",
			Help:    "Duration of one reconciler tick across all known bots",
			Buckets: prometheus.DefBuckets,
		},
	)

	routerPendingMessages = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "discord_agents_router_pending_messages",
			Help: "Pending messages per conversation key queue",
		},
		[]string{"bot_id"},
	)

	routerBacklogTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discord_agents_router_backlog_total",
			Help: "Total number of channel-backlogged rejections",
		},
		[]string{"bot_id"},
	)

	agentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discord_agents_agent_runs_total",
			Help: "Total number of agent runner invocations by outcome",
		},
		[]string{"model", "outcome"},
	)

	agentRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discord_agents_agent_run_duration_seconds",
			Help:    "Duration of one agent runner invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	usageTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discord_agents_usage_tokens_total",
			Help: "Total input/output tokens recorded by the usage sink",
		},
		[]string{"model", "direction"},
	)

	registerOnce sync.Once
)

// Register installs the package's collectors into reg. Safe to call once
// per process; subsequent calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			botStateTransitionsTotal,
			reconcilerTickDuration,
			routerPendingMessages,
			routerBacklogTotal,
			agentRunsTotal,
			agentRunDuration,
			usageTokensTotal,
		)
	})
}

// MetricsHandler exposes the registered collectors for scraping.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordStateTransition increments the transition counter for botID.
func RecordStateTransition(botID, toState string) {
	botStateTransitionsTotal.WithLabelValues(botID, toState).Inc()
}

// ObserveReconcilerTick records one tick's wall-clock duration.
func ObserveReconcilerTick(d time.Duration) {
	reconcilerTickDuration.Observe(d.Seconds())
}

// SetRouterPending sets the current pending-message gauge for botID.
func SetRouterPending(botID string, pending int) {
	routerPendingMessages.WithLabelValues(botID).Set(float64(pending))
}

// RecordRouterBacklog increments the backlog-rejection counter for botID.
func RecordRouterBacklog(botID string) {
	routerBacklogTotal.WithLabelValues(botID).Inc()
}

// RecordAgentRun increments the run counter and observes duration for model.
func RecordAgentRun(model, outcome string, d time.Duration) {
	agentRunsTotal.WithLabelValues(model, outcome).Inc()
	agentRunDuration.WithLabelValues(model).Observe(d.Seconds())
}

// RecordUsageTokens adds input/output token counts for model.
func RecordUsageTokens(model string, inputTokens, outputTokens int) {
	usageTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	usageTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
}
