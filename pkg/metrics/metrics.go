package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
)

const namespace = "tickerbook"

// Metrics holds the venue's Prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ordersSubmitted *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	tradesExecuted  *prometheus.CounterVec
	matchDuration   *prometheus.HistogramVec
	referencePrice  *prometheus.GaugeVec
	observers       prometheus.Gauge
	eventsDropped   *prometheus.CounterVec
}

// New registers every instrument on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders accepted for matching",
		}, []string{"symbol", "side", "kind"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Orders rejected by validation, by offending field",
		}, []string{"reason"}),
		tradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_executed_total",
			Help:      "Trades appended to the ledger",
		}, []string{"symbol"}),
		matchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Time spent inside a symbol's book lock per submission",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"symbol"}),
		referencePrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reference_price",
			Help:      "Current synthetic reference price",
		}, []string{"symbol"}),
		observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_observers",
			Help:      "Connected push-channel observers",
		}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events not delivered because an observer's buffer was full",
		}, []string{"event"}),
	}
	m.registry.MustRegister(
		m.ordersSubmitted,
		m.ordersRejected,
		m.tradesExecuted,
		m.matchDuration,
		m.referencePrice,
		m.observers,
		m.eventsDropped,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) OrderSubmitted(symbol core.Symbol, side core.Side, kind core.OrderKind) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(string(symbol), string(side), string(kind)).Inc()
}

func (m *Metrics) OrderRejected(reason string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) TradeExecuted(symbol core.Symbol) {
	if m == nil {
		return
	}
	m.tradesExecuted.WithLabelValues(string(symbol)).Inc()
}

func (m *Metrics) ObserveMatch(symbol core.Symbol, d time.Duration) {
	if m == nil {
		return
	}
	m.matchDuration.WithLabelValues(string(symbol)).Observe(d.Seconds())
}

func (m *Metrics) SetReferencePrice(symbol core.Symbol, price decimal.Decimal) {
	if m == nil {
		return
	}
	f, _ := price.Float64()
	m.referencePrice.WithLabelValues(string(symbol)).Set(f)
}

func (m *Metrics) ObserverConnected() {
	if m == nil {
		return
	}
	m.observers.Inc()
}

func (m *Metrics) ObserverDisconnected() {
	if m == nil {
		return
	}
	m.observers.Dec()
}

func (m *Metrics) EventDropped(event string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(event).Inc()
}
