package health

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"phototree/internal/capacity"
	"phototree/internal/filesystem"
	"phototree/internal/metrics"
)

const (
	checkTimeout    = 5 * time.Second
	degradedLatency = 200 * time.Millisecond
)

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status  string              `json:"status"`
	DB      DependencyStatus    `json:"db"`
	Library DependencyStatus    `json:"library"`
	Disk    *capacity.UsageInfo `json:"disk,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Pinger is satisfied by database.DatabaseManager
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker probes the database and the library root
type Checker struct {
	db      Pinger
	fs      filesystem.Provider
	metrics *metrics.Metrics

	capacity *capacity.Probe
	rootPath string
}

// NewChecker creates a checker; m may be nil
func NewChecker(db Pinger, fs filesystem.Provider, m *metrics.Metrics) *Checker {
	return &Checker{db: db, fs: fs, metrics: m}
}

// WithCapacity adds a disk usage check of the volume holding rootPath. A
// volume over the alert threshold degrades the status.
func (h *Checker) WithCapacity(probe *capacity.Probe, rootPath string) *Checker {
	h.capacity = probe
	h.rootPath = rootPath
	return h
}

// Check runs every dependency check
func (h *Checker) Check(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	resp := HealthResponse{
		DB:      h.probe(ctx, "db", h.db.Ping),
		Library: h.probe(ctx, "library", h.checkLibrary),
	}

	statuses := []string{resp.DB.Status, resp.Library.Status}
	if h.capacity != nil {
		if usage, err := h.capacity.GetUsage(h.rootPath); err == nil {
			resp.Disk = &usage
			if usage.Status == capacity.StatusAlert {
				statuses = append(statuses, "degraded")
			}
		}
	}

	resp.Status = "ok"
	for _, s := range statuses {
		if s == "down" {
			resp.Status = "down"
			break
		}
		if s == "degraded" {
			resp.Status = "degraded"
		}
	}
	return resp
}

func (h *Checker) checkLibrary(ctx context.Context) error {
	_, err := h.fs.ListDirectory(ctx, "")
	return err
}

func (h *Checker) probe(ctx context.Context, name string, check func(context.Context) error) DependencyStatus {
	start := time.Now()
	err := check(ctx)
	latency := time.Since(start)

	status := DependencyStatus{Status: "ok", LatencyMs: latency.Milliseconds()}
	switch {
	case err != nil:
		status.Status = "down"
		status.Error = err.Error()
	case latency > degradedLatency:
		status.Status = "degraded"
	}

	if h.metrics != nil {
		value := 1.0
		if err != nil {
			value = 0
		}
		h.metrics.HealthStatus.WithLabelValues(name).Set(value)
	}
	return status
}

// RegisterHealthRoutes registers the health check routes
func RegisterHealthRoutes(app *fiber.App, checker *Checker) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		resp := checker.Check(c.UserContext())

		if resp.Status == "down" {
			c.Status(fiber.StatusServiceUnavailable)
		} else {
			c.Status(fiber.StatusOK)
		}
		c.Set("Cache-Control", "no-store")
		return c.JSON(resp)
	})
}
