package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	MetricRegisterSuccess MetricID = iota
	MetricRegisterFailure
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginRateLimited
	MetricLoginTwoFactorRequired
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricRecoveryCodeUsed
	MetricTOTPReplayRejected
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricLogout
	MetricLogoutAll
	MetricAccessBlacklisted
	MetricVerificationRequest
	MetricVerificationSuccess
	MetricVerificationFailure
	MetricResetRequest
	MetricResetSuccess
	MetricResetFailure
	MetricPasswordChange
	MetricPasswordRehash
	MetricEmailChange
	MetricTOTPEnabled
	MetricTOTPDisabled
	MetricRecoveryCodesRegenerated
	MetricRoleAdmin
	MetricAccessDenied
	MetricNotificationDropped
	MetricUnavailable
	MetricPurged
	MetricValidateLatency
	MetricHashLatency
	metricIDCount
)

// latencyBounds are the inclusive upper bounds of the finite histogram
// buckets. A final bucket takes everything slower.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(latencyBounds) + 1

var histogramIDs = [...]MetricID{MetricValidateLatency, MetricHashLatency}

// counterSlot is padded to a cache line so hot counters do not share one.
type counterSlot struct {
	n atomic.Uint64
	_ [56]byte
}

type histogram [histBucketCount]atomic.Uint64

// Metrics holds lock-free counters. A nil or disabled *Metrics ignores
// every update.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]counterSlot
	histograms    [len(histogramIDs)]histogram
}

// MetricsSnapshot is a point-in-time copy of every counter and enabled
// histogram. Histogram slices hold non-cumulative bucket counts.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

func (m *Metrics) Add(id MetricID, n uint64) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	m.counters[id].n.Add(n)
}

// Observe records d in the histogram for id. Ids without a histogram are
// ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() {
		return
	}
	if h := histogramSlot(id); h >= 0 {
		m.histograms[h][bucketIndex(d)].Add(1)
	}
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].n.Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if histogramSlot(id) < 0 {
			s.Counters[id] = m.counters[id].n.Load()
		}
	}
	if m.enableLatency {
		for i, id := range histogramIDs {
			buckets := make([]uint64, histBucketCount)
			for b := range buckets {
				buckets[b] = m.histograms[i][b].Load()
			}
			s.Histograms[id] = buckets
		}
	}
	return s
}

func histogramSlot(id MetricID) int {
	for i, h := range histogramIDs {
		if h == id {
			return i
		}
	}
	return -1
}

// bucketIndex compares at millisecond resolution, so 5.9ms lands in the
// 5ms bucket.
func bucketIndex(d time.Duration) int {
	d = d.Truncate(time.Millisecond)
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
