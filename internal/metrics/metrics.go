// Package metrics exports astyled connection events to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Zereker/astyled"
)

const namespace = "astyled"

// Collector implements astyled.Observer on top of Prometheus vectors.
type Collector struct {
	requestsTotal     *prometheus.CounterVec
	decodeErrorsTotal *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	bodyBytes         prometheus.Histogram
	connsInFlight     prometheus.Gauge
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Connections handled, by outcome.",
			},
			[]string{"outcome"},
		),
		decodeErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_errors_total",
				Help:      "Requests rejected before the transform ran, by error kind.",
			},
			[]string{"kind"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from accept to close, by outcome.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		bodyBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_body_bytes",
				Help:      "Declared body size of decoded requests.",
				Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
			},
		),
		connsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections_in_flight",
				Help:      "Connections currently being handled.",
			},
		),
	}
}

// ConnOpened implements astyled.Observer.
func (c *Collector) ConnOpened() {
	c.connsInFlight.Inc()
}

// ConnClosed implements astyled.Observer.
func (c *Collector) ConnClosed(res astyled.Result) {
	c.connsInFlight.Dec()

	outcome := string(res.Outcome)
	c.requestsTotal.WithLabelValues(outcome).Inc()
	c.requestDuration.WithLabelValues(outcome).Observe(res.Duration.Seconds())

	if res.Outcome == astyled.OutcomeDecodeError {
		c.decodeErrorsTotal.WithLabelValues(res.Kind).Inc()
	}
	if res.BodyBytes > 0 {
		c.bodyBytes.Observe(float64(res.BodyBytes))
	}
}
