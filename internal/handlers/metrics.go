package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler serves Prometheus metrics
type MetricsHandler struct {
	gatherer prometheus.Gatherer
}

// NewMetricsHandler creates a metrics handler; a nil gatherer uses the default registry
func NewMetricsHandler(gatherer prometheus.Gatherer) *MetricsHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &MetricsHandler{gatherer: gatherer}
}

// Metrics returns a Fiber handler for Prometheus metrics
func (h *MetricsHandler) Metrics() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
}
