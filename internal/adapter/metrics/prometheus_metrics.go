package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PrometheusStockMetrics struct {
	messages *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewPrometheusStockMetrics(reg prometheus.Registerer) *PrometheusStockMetrics {
	m := &PrometheusStockMetrics{
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stock_messages_total",
				Help: "Stock messages handled, by outcome.",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stock_message_duration_seconds",
				Help:    "Time spent handling a stock message.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(m.messages, m.duration)
	return m
}

func (m *PrometheusStockMetrics) ObserveMessage(outcome string, elapsed time.Duration) {
	m.messages.WithLabelValues(outcome).Inc()
	m.duration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
