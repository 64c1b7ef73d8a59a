// Package metrics defines Prometheus instrumentation for the analysis core
// and serves it over HTTP.
package metrics

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quantfold/stockpulse/internal/models"
)

var (
	// AgentAnalyses counts completed agent analyses by agent and outcome.
	AgentAnalyses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_agent_analyses_total",
			Help: "Total agent analyses by agent name and status",
		},
		[]string{"agent", "status"},
	)

	// AgentFailures counts agent failures by agent and normalized reason.
	AgentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_agent_failures_total",
			Help: "Total agent failures by agent name and reason",
		},
		[]string{"agent", "reason"},
	)

	// AgentDuration observes per-ticker agent analysis latency.
	AgentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockpulse_agent_duration_seconds",
			Help:    "Agent analysis duration by agent name",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		},
		[]string{"agent"},
	)

	// PortfolioRuns counts supervisor runs by terminal state.
	PortfolioRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_portfolio_runs_total",
			Help: "Total portfolio synthesis runs by terminal state",
		},
		[]string{"state"},
	)

	// PortfolioDuration observes full portfolio run latency.
	PortfolioDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stockpulse_portfolio_duration_seconds",
			Help:    "Portfolio synthesis run duration",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// EventsEmitted counts sentinel events by type and severity.
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_events_emitted_total",
			Help: "Total sentinel events by event type and severity",
		},
		[]string{"event_type", "severity"},
	)

	// SnapshotsIngested counts news snapshot ingestions by outcome.
	SnapshotsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_snapshots_ingested_total",
			Help: "Total news snapshot ingestions by status",
		},
		[]string{"status"},
	)

	// AggregationConflicts counts profile updates abandoned after the retry
	// ceiling.
	AggregationConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockpulse_aggregation_conflicts_total",
			Help: "Total profile aggregations abandoned due to serialization conflicts",
		},
	)

	// AggregationRetries counts individual serialization retries.
	AggregationRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockpulse_aggregation_retries_total",
			Help: "Total profile aggregation serialization retries",
		},
	)

	// OracleCalls counts oracle synthesis calls by status.
	OracleCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockpulse_oracle_calls_total",
			Help: "Total oracle synthesis calls by status",
		},
		[]string{"status"},
	)
)

// NormalizeFailureReason maps an error to a bounded label value so failure
// counters never explode in cardinality.
func NormalizeFailureReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, models.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, models.ErrUpstreamTimeout):
		return "upstream_timeout"
	case errors.Is(err, models.ErrUpstreamError):
		return "upstream_error"
	case errors.Is(err, models.ErrAggregationConflict):
		return "aggregation_conflict"
	case errors.Is(err, models.ErrSynthesisFailed):
		return "synthesis_failed"
	case strings.Contains(err.Error(), "context canceled"):
		return "canceled"
	default:
		return "other"
	}
}
