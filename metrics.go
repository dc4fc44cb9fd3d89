package driftbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is an optional Prometheus collector for one bus. All Metrics
// methods are nil-safe: a bus without metrics pays only a nil check.
type Metrics struct {
	published      *prometheus.CounterVec
	delivered      *prometheus.CounterVec
	callbackErrors *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	subscribers    prometheus.Gauge
}

// NewMetrics builds a collector registered on reg, typically
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftbus",
			Name:      "published_total",
			Help:      "Messages accepted for dispatch, by topic.",
		}, []string{"topic"}),
		delivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftbus",
			Name:      "delivered_total",
			Help:      "Successful subscriber callback invocations, by topic.",
		}, []string{"topic"}),
		callbackErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftbus",
			Name:      "callback_errors_total",
			Help:      "Subscriber callback errors and panics, by topic.",
		}, []string{"topic"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "driftbus",
			Name:      "queue_depth",
			Help:      "Messages waiting in the dispatch queue.",
		}),
		subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "driftbus",
			Name:      "subscribers",
			Help:      "Live subscriptions across all buckets.",
		}),
	}
}

func (m *Metrics) msgPublished(topic string, depth int) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(topic).Inc()
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) msgDelivered(topic string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(topic).Inc()
}

func (m *Metrics) callbackError(topic string) {
	if m == nil {
		return
	}
	m.callbackErrors.WithLabelValues(topic).Inc()
}

func (m *Metrics) subscriberAdded(string) {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) subscriberRemoved(string) {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *Metrics) subscribersDropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.subscribers.Sub(float64(n))
}
