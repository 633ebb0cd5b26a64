package authgate

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginCaptchaRejected
	MetricLoginTwoFactorPending
	MetricRegisterSuccess
	MetricRegisterDuplicate
	MetricRegisterFailure
	MetricTwoFactorChallengeSent
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricTwoFactorToggled
	MetricPasswordResetRequest
	MetricPasswordResetConfirmSuccess
	MetricPasswordResetConfirmFailure
	MetricExternalLoginSuccess
	MetricExternalLoginFailure
	MetricTokenIssued
	MetricTokenRejected
	MetricMailFailure
	// MetricLoginLatency is the only histogram-backed id.
	MetricLoginLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:                "login_success_total",
	MetricLoginFailure:                "login_failure_total",
	MetricLoginCaptchaRejected:        "login_captcha_rejected_total",
	MetricLoginTwoFactorPending:       "login_two_factor_pending_total",
	MetricRegisterSuccess:             "register_success_total",
	MetricRegisterDuplicate:           "register_duplicate_total",
	MetricRegisterFailure:             "register_failure_total",
	MetricTwoFactorChallengeSent:      "two_factor_challenge_sent_total",
	MetricTwoFactorSuccess:            "two_factor_success_total",
	MetricTwoFactorFailure:            "two_factor_failure_total",
	MetricTwoFactorToggled:            "two_factor_toggled_total",
	MetricPasswordResetRequest:        "password_reset_request_total",
	MetricPasswordResetConfirmSuccess: "password_reset_confirm_success_total",
	MetricPasswordResetConfirmFailure: "password_reset_confirm_failure_total",
	MetricExternalLoginSuccess:        "external_login_success_total",
	MetricExternalLoginFailure:        "external_login_failure_total",
	MetricTokenIssued:                 "token_issued_total",
	MetricTokenRejected:               "token_rejected_total",
	MetricMailFailure:                 "mail_failure_total",
	MetricLoginLatency:                "login_latency",
}

// Name is the exporter-facing metric name without namespace.
func (id MetricID) Name() string {
	if id >= metricIDCount {
		return ""
	}
	return metricNames[id]
}

// HistogramBucketBounds are the inclusive upper bounds of the latency
// histogram buckets. The last bucket is unbounded.
var HistogramBucketBounds = [histBucketCount - 1]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter.
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

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the login latency histogram. Other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricLoginLatency {
		return
	}
	atomic.AddUint64(&m.latency.buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if m == nil || !m.enabled {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricLoginLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.latency.buckets[i])
		}
		s.Histograms[MetricLoginLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBucketBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
