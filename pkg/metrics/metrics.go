// Package metrics registers the Prometheus instrumentation shared across the
// tape and position engines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TicksProcessed counts market ticks accepted by the tape engine per symbol.
var TicksProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tapeflow_ticks_processed_total",
		Help: "Total number of market ticks processed by the tape engine",
	},
	[]string{"symbol"},
)

// TicksDropped counts malformed ticks dropped before processing.
var TicksDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tapeflow_ticks_dropped_total",
		Help: "Total number of malformed ticks dropped by the tape engine",
	},
	[]string{"symbol"},
)

// TapeEntriesProcessed counts tape prints classified by the engine.
var TapeEntriesProcessed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "tapeflow_tape_entries_processed_total",
		Help: "Total number of tape entries classified",
	},
)

// PatternsDetected counts emitted pattern matches by detector name.
var PatternsDetected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tapeflow_patterns_detected_total",
		Help: "Total number of pattern matches emitted, by pattern name",
	},
	[]string{"pattern"},
)

// EventsDropped counts best-effort event deliveries dropped on full buffers.
var EventsDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tapeflow_events_dropped_total",
		Help: "Total number of events dropped because a subscriber buffer was full",
	},
	[]string{"event_type"},
)

// Position lifecycle counters.
var (
	PositionsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tapeflow_positions_opened_total",
			Help: "Total number of positions opened",
		},
	)
	PositionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tapeflow_positions_closed_total",
			Help: "Total number of positions closed, by reason",
		},
		[]string{"reason"},
	)
)

// Portfolio gauges, refreshed on every position-engine mutation.
var (
	PortfolioValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tapeflow_portfolio_value",
			Help: "Current portfolio value",
		},
	)
	PortfolioDrawdown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tapeflow_portfolio_drawdown",
			Help: "Current drawdown from the running portfolio peak",
		},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tapeflow_open_positions",
			Help: "Number of currently open positions",
		},
	)
	AggressionLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tapeflow_aggression_level",
			Help: "Current tape aggression level in [-1, 1]",
		},
	)
)

// SnapshotsCreated counts portfolio snapshots taken by the background timer.
var SnapshotsCreated = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "tapeflow_snapshots_created_total",
		Help: "Total number of portfolio snapshots created",
	},
)

func init() {
	prometheus.MustRegister(TicksProcessed, TicksDropped, TapeEntriesProcessed, PatternsDetected)
	prometheus.MustRegister(EventsDropped, PositionsOpened, PositionsClosed)
	prometheus.MustRegister(PortfolioValue, PortfolioDrawdown, OpenPositions, AggressionLevel)
	prometheus.MustRegister(SnapshotsCreated)
}
