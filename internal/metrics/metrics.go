// Package metrics holds the Prometheus collectors shared by bots, the tracker
// and the activity log.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crypto_bots"

// ActiveBots is the number of registered bot instances per strategy.
var ActiveBots = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "active_bots",
		Help:      "Number of registered bot instances",
	},
	[]string{"bot_type"},
)

// BotStarts counts start requests, including superseding restarts.
var BotStarts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracker",
		Name:      "bot_starts_total",
		Help:      "Bot start requests by result",
	},
	[]string{"bot_type", "result"},
)

// Orders counts order placements and edits by outcome.
var Orders = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bot",
		Name:      "orders_total",
		Help:      "Orders sent to the exchange by strategy, side and result",
	},
	[]string{"bot_type", "side", "result"},
)

// TickErrors counts ticks skipped because a market-data call failed.
var TickErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bot",
		Name:      "tick_errors_total",
		Help:      "Ticks skipped due to market data errors",
	},
	[]string{"bot_type", "stage"},
)

// ActivityEvents counts activity log events by kind and outcome
// (persisted, failed, dropped).
var ActivityEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "activity",
		Name:      "events_total",
		Help:      "Activity events by kind and outcome",
	},
	[]string{"kind", "result"},
)

// ActivityQueueDepth is the number of events waiting to be persisted.
var ActivityQueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "activity",
		Name:      "queue_depth",
		Help:      "Events buffered in the activity log channel",
	},
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
