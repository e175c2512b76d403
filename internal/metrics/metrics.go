// Package metrics holds the prometheus collectors exported by the trader.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Rejection reasons used as the "reason" label of OrdersRejected.
const (
	ReasonInvalid = "invalid"
	ReasonRisk    = "risk"
	ReasonVenue   = "venue"
)

var (
	OrdersPlaced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskdesk",
		Name:      "orders_placed_total",
		Help:      "Orders accepted by the venue, by order type.",
	}, []string{"type"})

	OrdersRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "riskdesk",
		Name:      "orders_rejected_total",
		Help:      "Orders rejected before or at the venue, by reason.",
	}, []string{"reason"})

	OrdersCancelled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskdesk",
		Name:      "orders_cancelled_total",
		Help:      "Orders cancelled after venue confirmation.",
	})

	OrdersFilled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskdesk",
		Name:      "orders_filled_total",
		Help:      "Orders that transitioned to filled.",
	})

	PortfolioValue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskdesk",
		Name:      "portfolio_value",
		Help:      "Sum of position market values.",
	})

	DailyPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskdesk",
		Name:      "daily_pnl",
		Help:      "Realized PnL since the last session rollover.",
	})
)

func init() {
	prometheus.MustRegister(
		OrdersPlaced,
		OrdersRejected,
		OrdersCancelled,
		OrdersFilled,
		PortfolioValue,
		DailyPnL,
	)
}
