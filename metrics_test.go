package authcore

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	assert.Zero(t, m.Value(MetricLoginSuccess))
	assert.Empty(t, m.Snapshot().Counters)
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLoginSuccess)
	m.Observe(MetricValidateLatency, time.Millisecond)

	assert.False(t, m.Enabled())
	assert.Zero(t, m.Value(MetricLoginSuccess))
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Add(MetricPurged, 7)
	m.Inc(metricIDCount)

	assert.Equal(t, uint64(2), m.Value(MetricLoginSuccess))
	assert.Equal(t, uint64(7), m.Value(MetricPurged))
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(goroutines*perG), m.Value(MetricRefreshSuccess))
}

func TestMetricsHistogramBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	m.Observe(MetricHashLatency, 3*time.Millisecond)
	m.Observe(MetricHashLatency, 40*time.Millisecond)
	m.Observe(MetricHashLatency, 2*time.Second)
	m.Observe(MetricLoginSuccess, time.Millisecond)

	snap := m.Snapshot()
	require.Len(t, snap.Histograms[MetricHashLatency], histBucketCount)
	assert.Equal(t, []uint64{1, 0, 0, 1, 0, 0, 0, 1}, snap.Histograms[MetricHashLatency])
	assert.Equal(t, make([]uint64, histBucketCount), snap.Histograms[MetricValidateLatency])
	assert.NotContains(t, snap.Counters, MetricHashLatency)
}

func TestMetricsHistogramRequiresLatencyFlag(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricHashLatency, time.Millisecond)

	assert.False(t, m.LatencyEnabled())
	assert.Empty(t, m.Snapshot().Histograms)
}

func TestEngineCountsHashLatency(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.Metrics.EnableLatencyHistograms = true
	})
	te.register(t, aliceEmail, alicePassword)
	te.login(t, aliceEmail, alicePassword)

	var total uint64
	for _, c := range te.MetricsSnapshot().Histograms[MetricHashLatency] {
		total += c
	}
	assert.GreaterOrEqual(t, total, uint64(2))
}
