package capacity

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"phototree/internal/metrics"
)

const (
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusAlert   = "alert"
)

// UsageInfo holds information about disk usage
type UsageInfo struct {
	Path        string     `json:"path"`
	Total       uint64     `json:"total"`
	Used        uint64     `json:"used"`
	Free        uint64     `json:"free"`
	UsedPercent float64    `json:"used_percent"`
	Thresholds  Thresholds `json:"-"`
	Status      string     `json:"status"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Thresholds defines warning and alert thresholds in percent used
type Thresholds struct {
	WarnPercent  float64
	AlertPercent float64
}

// DefaultThresholds returns the default thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarnPercent:  80.0,
		AlertPercent: 90.0,
	}
}

// Probe reports disk usage of the volume holding the library
type Probe struct {
	thresholds Thresholds
	metrics    *metrics.Metrics
	usage      func(path string) (*disk.UsageStat, error)
}

// NewProbe creates a probe; m may be nil
func NewProbe(thresholds Thresholds, m *metrics.Metrics) *Probe {
	return &Probe{thresholds: thresholds, metrics: m, usage: disk.Usage}
}

// GetUsage retrieves usage information for the volume holding path
func (p *Probe) GetUsage(path string) (UsageInfo, error) {
	if path == "" {
		return UsageInfo{}, fmt.Errorf("path cannot be empty")
	}
	stat, err := p.usage(path)
	if err != nil {
		return UsageInfo{}, fmt.Errorf("failed to get disk usage for path %s: %w", path, err)
	}

	info := UsageInfo{
		Path:        path,
		Total:       stat.Total,
		Used:        stat.Used,
		Free:        stat.Free,
		UsedPercent: stat.UsedPercent,
		Thresholds:  p.thresholds,
		Status:      p.evaluateStatus(stat.UsedPercent),
		Timestamp:   time.Now(),
	}

	if p.metrics != nil {
		p.metrics.LibraryDiskUsedPercent.Set(stat.UsedPercent)
	}
	return info, nil
}

func (p *Probe) evaluateStatus(usedPercent float64) string {
	switch {
	case usedPercent >= p.thresholds.AlertPercent:
		return StatusAlert
	case usedPercent >= p.thresholds.WarnPercent:
		return StatusWarning
	default:
		return StatusOK
	}
}
