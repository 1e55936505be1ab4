package capacity

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phototree/internal/metrics"
)

func fixedUsage(percent float64) func(string) (*disk.UsageStat, error) {
	return func(path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Total: 1000, Used: uint64(percent * 10), Free: 1000 - uint64(percent*10), UsedPercent: percent}, nil
	}
}

func TestProbe_Status(t *testing.T) {
	tests := []struct {
		percent float64
		want    string
	}{
		{10, StatusOK},
		{80, StatusWarning},
		{89.9, StatusWarning},
		{90, StatusAlert},
	}
	for _, tt := range tests {
		p := NewProbe(DefaultThresholds(), nil)
		p.usage = fixedUsage(tt.percent)

		info, err := p.GetUsage("/photos")
		require.NoError(t, err)
		assert.Equal(t, tt.want, info.Status, "%v%%", tt.percent)
	}
}

func TestProbe_RecordsMetric(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	p := NewProbe(DefaultThresholds(), m)
	p.usage = fixedUsage(42)

	_, err := p.GetUsage("/photos")
	require.NoError(t, err)
	assert.Equal(t, 42.0, testutil.ToFloat64(m.LibraryDiskUsedPercent))
}

func TestProbe_Errors(t *testing.T) {
	p := NewProbe(DefaultThresholds(), nil)
	_, err := p.GetUsage("")
	assert.Error(t, err)

	p.usage = func(string) (*disk.UsageStat, error) { return nil, errors.New("no such volume") }
	_, err = p.GetUsage("/photos")
	assert.ErrorContains(t, err, "no such volume")
}

func TestProbe_RealVolume(t *testing.T) {
	info, err := NewProbe(DefaultThresholds(), nil).GetUsage(t.TempDir())
	require.NoError(t, err)
	assert.NotZero(t, info.Total)
}
