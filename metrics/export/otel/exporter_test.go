package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authcore.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authcore.MetricsSnapshot{
		Counters:   make(map[authcore.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authcore.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

// int64Value returns the single data point of the named sum or gauge.
func int64Value(t *testing.T, rm metricdata.ResourceMetrics, name string) (int64, bool) {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				require.Len(t, data.DataPoints, 1)
				return data.DataPoints[0].Value, true
			case metricdata.Gauge[int64]:
				require.Len(t, data.DataPoints, 1)
				return data.DataPoints[0].Value, true
			}
		}
	}
	return 0, false
}

// bucketValue returns the bucket gauge point whose le attribute is le.
func bucketValue(t *testing.T, rm metricdata.ResourceMetrics, name, le string) (int64, bool) {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			gauge, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok, "%s is %T", name, m.Data)
			require.Len(t, gauge.DataPoints, 8)
			for _, dp := range gauge.DataPoints {
				if v, ok := dp.Attributes.Value("le"); ok && v.AsString() == le {
					return dp.Value, true
				}
			}
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()

	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess: 3,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(provider.Meter("authcore-test"), src)
	require.NoError(t, err)
	defer func() { require.NoError(t, exp.Close()) }()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	v, ok := int64Value(t, rm, "authcore_login_success_total")
	require.True(t, ok)
	assert.Equal(t, int64(3), v)

	v, ok = bucketValue(t, rm, "authcore_validate_latency_seconds_bucket", "0.025")
	require.True(t, ok)
	assert.Equal(t, int64(3), v)

	v, ok = bucketValue(t, rm, "authcore_validate_latency_seconds_bucket", "+Inf")
	require.True(t, ok)
	assert.Equal(t, int64(8), v)

	v, ok = int64Value(t, rm, "authcore_validate_latency_seconds_count")
	require.True(t, ok)
	assert.Equal(t, int64(8), v)

	v, ok = int64Value(t, rm, "authcore_audit_dropped_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), v)

	// histograms missing from the snapshot are not observed
	_, ok = int64Value(t, rm, "authcore_hash_latency_seconds_count")
	assert.False(t, ok)
}

func TestExporterReadsLiveEngine(t *testing.T) {
	reader, provider := newReader()

	cfg := authcore.DefaultConfig()
	cfg.JWT.AccessKey.Private = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.RefreshKey.Private = []byte("fedcba9876543210fedcba9876543210")
	cfg.JWT.PendingKey.Private = []byte("00112233445566778899aabbccddeeff")
	cfg.Password.BcryptCost = 4
	cfg.Metrics.Enabled = true

	engine, err := authcore.New().WithConfig(cfg).Build()
	require.NoError(t, err)
	defer engine.Close()

	exp, err := NewOTelExporter(provider.Meter("authcore-test"), engine)
	require.NoError(t, err)
	defer exp.Close()

	_, err = engine.Login(context.Background(), "nobody@example.com", "Str0ngPass!")
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	v, ok := int64Value(t, rm, "authcore_login_failure_total")
	require.True(t, ok)
	assert.Equal(t, int64(1), v)
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newReader()

	_, err := NewOTelExporterFromSource(provider.Meter("authcore-test"), nil)
	assert.ErrorIs(t, err, ErrNilSource)

	_, err = NewOTelExporterFromSource(nil, &fakeSource{})
	assert.ErrorIs(t, err, ErrNilMeter)
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()

	src := &fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess: 1,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(provider.Meter("authcore-test"), src)
	require.NoError(t, err)
	defer func() { require.NoError(t, exp.Close()) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[authcore.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
