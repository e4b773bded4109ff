package observability

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kbukum/sdkrtl/transport"
)

// PrometheusMetrics holds Prometheus collectors for completed exchanges.
type PrometheusMetrics struct {
	ExchangesTotal   *prometheus.CounterVec
	ExchangeDuration *prometheus.HistogramVec
	ResponseSize     *prometheus.HistogramVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "sdk"
	}
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		ExchangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exchanges_total",
				Help:      "Total number of completed exchanges by method and status",
			},
			[]string{"method", "status", "outcome"},
		),
		ExchangeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "exchange_duration_seconds",
				Help:      "Exchange latency histogram",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
			[]string{"method"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_size_bytes",
				Help:      "Size of buffered response bodies",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
			},
			[]string{"method"},
		),
	}
}

// RecordExchange records metrics for a completed exchange.
func (m *PrometheusMetrics) RecordExchange(raw *transport.RawResponse) {
	outcome := "ok"
	if !raw.OK {
		outcome = "error"
	}
	m.ExchangesTotal.WithLabelValues(raw.Method, strconv.Itoa(raw.StatusCode), outcome).Inc()
	m.ExchangeDuration.WithLabelValues(raw.Method).Observe(raw.Duration().Seconds())
	if raw.Body != nil {
		m.ResponseSize.WithLabelValues(raw.Method).Observe(float64(len(raw.Body)))
	}
}

// Observer returns a transport observer feeding m.
func (m *PrometheusMetrics) Observer() transport.Observer {
	return func(_ context.Context, raw transport.RawResponse) {
		m.RecordExchange(&raw)
	}
}
