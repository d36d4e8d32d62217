// Package metrics exposes Prometheus metrics for the trading loop.
//
// Exposed series:
//   - zeta_orders_total{side,type}          orders accepted by the venue
//   - zeta_exits_total{reason}              exit decisions by sell reason
//   - zeta_order_timeouts_total{side}       orders cancelled by unfilledtimeout
//   - zeta_action_failures_total{action,class} abandoned actions by error class
//   - zeta_retries_total{op}                retried venue calls
//   - zeta_open_trades                      trades occupying a slot
//   - zeta_tick_duration_seconds            wall time of one loop tick
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zetatrade/internal/domain"
	"zetatrade/internal/ports"
)

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	orders         *prometheus.CounterVec
	exits          *prometheus.CounterVec
	timeouts       *prometheus.CounterVec
	actionFailures *prometheus.CounterVec
	retries        *prometheus.CounterVec
	openTrades     prometheus.Gauge
	tickDuration   prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zeta_orders_total",
			Help: "Orders accepted by the venue",
		}, []string{"side", "type"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zeta_exits_total",
			Help: "Exit decisions split by sell reason",
		}, []string{"reason"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zeta_order_timeouts_total",
			Help: "Orders cancelled after exceeding unfilledtimeout",
		}, []string{"side"}),
		actionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zeta_action_failures_total",
			Help: "Actions abandoned for the current tick, by error class",
		}, []string{"action", "class"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zeta_retries_total",
			Help: "Venue calls retried after a recoverable error",
		}, []string{"op"}),
		openTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zeta_open_trades",
			Help: "Trades currently occupying a slot",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zeta_tick_duration_seconds",
			Help:    "Duration of one execution loop tick",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.orders, m.exits, m.timeouts, m.actionFailures,
		m.retries, m.openTrades, m.tickDuration)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OrderPlaced(side domain.OrderSide, typ domain.OrderType) {
	m.orders.WithLabelValues(string(side), string(typ)).Inc()
}

func (m *Metrics) Exit(reason domain.SellReason) {
	m.exits.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) OrderTimedOut(side domain.OrderSide) {
	m.timeouts.WithLabelValues(string(side)).Inc()
}

// ActionFailed records an abandoned action, labelled by the error's class.
func (m *Metrics) ActionFailed(action string, err error) {
	m.actionFailures.WithLabelValues(action, ports.Classify(err).String()).Inc()
}

// Retry matches retry.Observer.
func (m *Metrics) Retry(op string, _ int, _ error) {
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) SetOpenTrades(n int) {
	m.openTrades.Set(float64(n))
}

func (m *Metrics) ObserveTick(d time.Duration) {
	m.tickDuration.Observe(d.Seconds())
}
