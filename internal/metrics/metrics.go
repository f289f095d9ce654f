package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ralph_ticks_total",
		Help: "Agent ticks by trigger and outcome.",
	}, []string{"reason", "result"})

	ToolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ralph_tool_calls_total",
		Help: "Tool invocations by tool name and outcome.",
	}, []string{"tool", "result"})

	TradesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ralph_trades_total",
		Help: "Ledger rows written by status.",
	}, []string{"status"})

	StaleLockOverrides = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ralph_stale_lock_overrides_total",
		Help: "In-flight tick markers discarded for exceeding the runtime ceiling.",
	})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ralph_tick_duration_seconds",
		Help:    "",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 90, 120},
	})

	AgentSteps = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ralph_agent_steps",
		Help:    "",
		Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12},
	})
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		ToolCallsTotal,
		TradesTotal,
		StaleLockOverrides,
		TickDuration,
		AgentSteps,
	)
}

// Result maps an outcome flag to the "ok"/"error" label value.
func Result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
