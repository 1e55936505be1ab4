package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics holds the request collectors
type HTTPMetrics struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorCount      *prometheus.CounterVec
}

// NewHTTPMetrics registers the request collectors with reg
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		RequestCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phototree_api_requests_total",
				Help: "Total number of API requests by method, route, and status",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phototree_api_request_duration_seconds",
				Help:    "Histogram of request durations by method, route, and status",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "route", "status"},
		),
		ErrorCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "phototree_api_errors_total",
				Help: "Total number of API errors by method, route, and status",
			},
			[]string{"method", "route", "status"},
		),
	}
}

// Middleware records request metrics
func (m *HTTPMetrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		// route is only known after routing
		route := c.Route().Path
		method := c.Method()
		statusCode := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				statusCode = fe.Code
			} else {
				statusCode = fiber.StatusInternalServerError
			}
		}
		status := strconv.Itoa(statusCode)

		m.RequestCount.WithLabelValues(method, route, status).Inc()
		m.RequestDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
		if statusCode >= 400 {
			m.ErrorCount.WithLabelValues(method, route, status).Inc()
		}
		return err
	}
}
