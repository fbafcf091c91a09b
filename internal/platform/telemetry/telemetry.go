// Package telemetry exposes Prometheus metrics for the HTTP layer and the
// comparison and catalog services.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/labprice/labprice/internal/platform/apperrors"
)

const namespace = "labprice"

// Comparison outcomes recorded on labprice_comparisons_total.
const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation_error"
	OutcomeNotFound   = "not_found"
	OutcomeConflict   = "conflict"
	OutcomeInternal   = "internal_error"
)

// Metrics owns a private registry so tests can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	comparisons        *prometheus.CounterVec
	comparisonDuration prometheus.Histogram
	activations        prometheus.Counter
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// NewMetrics registers every collector. Pass withRuntime to also export Go
// runtime and process collectors.
func NewMetrics(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		comparisons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comparisons_total",
			Help:      "Price comparisons computed, by outcome.",
		}, []string{"outcome"}),
		comparisonDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "comparison_duration_seconds",
			Help:      "Time spent reading the snapshot and computing a comparison.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		activations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_list_activations_total",
			Help:      "Price lists activated.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(m.comparisons, m.comparisonDuration, m.activations, m.httpRequests, m.httpDuration)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveComparison records one comparison. A nil receiver is a no-op.
func (m *Metrics) ObserveComparison(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.comparisons.WithLabelValues(outcome).Inc()
	m.comparisonDuration.Observe(d.Seconds())
}

// IncActivations records activated price lists. A nil receiver is a no-op.
func (m *Metrics) IncActivations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.activations.Add(float64(n))
}

// Middleware records request count and latency labelled by route template.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			// the error handler writes the response after this returns
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = apperrors.HTTPStatus(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
