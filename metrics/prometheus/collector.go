package prometheus

import (
	"net/http"

	"github.com/MrEthical07/authgate"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authgate"

// Source is the read side of an engine's metrics.
type Source interface {
	MetricsSnapshot() authgate.MetricsSnapshot
	AuditDropped() uint64
}

var counterHelp = map[authgate.MetricID]string{
	authgate.MetricLoginSuccess:                "Successful password logins.",
	authgate.MetricLoginFailure:                "Failed password logins.",
	authgate.MetricLoginCaptchaRejected:        "Logins rejected by the CAPTCHA check.",
	authgate.MetricLoginTwoFactorPending:       "Logins that stopped at the 2FA step.",
	authgate.MetricRegisterSuccess:             "Created accounts.",
	authgate.MetricRegisterDuplicate:           "Registrations rejected as duplicate email.",
	authgate.MetricRegisterFailure:             "Registrations that failed for other reasons.",
	authgate.MetricTwoFactorChallengeSent:      "2FA codes sent.",
	authgate.MetricTwoFactorSuccess:            "Successful 2FA validations.",
	authgate.MetricTwoFactorFailure:            "Failed 2FA validations.",
	authgate.MetricTwoFactorToggled:            "2FA enable or disable operations.",
	authgate.MetricPasswordResetRequest:        "Forgot-password requests.",
	authgate.MetricPasswordResetConfirmSuccess: "Successful password resets.",
	authgate.MetricPasswordResetConfirmFailure: "Failed password resets.",
	authgate.MetricExternalLoginSuccess:        "Successful external identity logins.",
	authgate.MetricExternalLoginFailure:        "Failed external identity logins.",
	authgate.MetricTokenIssued:                 "Session tokens issued.",
	authgate.MetricTokenRejected:               "Session tokens rejected on verification.",
	authgate.MetricMailFailure:                 "Outgoing mail failures.",
}

type counterDesc struct {
	id   authgate.MetricID
	desc *prom.Desc
}

// Collector reads a Source on every scrape.
type Collector struct {
	source   Source
	counters []counterDesc
	latency  *prom.Desc
	dropped  *prom.Desc
	bounds   []float64
}

// NewCollector builds descriptors for every engine counter.
func NewCollector(src Source) *Collector {
	c := &Collector{
		source: src,
		latency: prom.NewDesc(
			prom.BuildFQName(namespace, "", authgate.MetricLoginLatency.Name()+"_seconds"),
			"Login latency.", nil, nil,
		),
		dropped: prom.NewDesc(
			prom.BuildFQName(namespace, "", "audit_dropped_total"),
			"Audit events dropped because the dispatcher buffer was full.", nil, nil,
		),
	}
	for id := authgate.MetricID(0); id < authgate.MetricLoginLatency; id++ {
		c.counters = append(c.counters, counterDesc{
			id:   id,
			desc: prom.NewDesc(prom.BuildFQName(namespace, "", id.Name()), counterHelp[id], nil, nil),
		})
	}
	for _, b := range authgate.HistogramBucketBounds {
		c.bounds = append(c.bounds, b.Seconds())
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	ch <- c.latency
	ch <- c.dropped
}

// Collect emits only what the snapshot contains, so a disabled metrics
// config yields just the audit counter.
func (c *Collector) Collect(ch chan<- prom.Metric) {
	if c.source == nil {
		return
	}
	snap := c.source.MetricsSnapshot()

	for _, cd := range c.counters {
		v, ok := snap.Counters[cd.id]
		if !ok {
			continue
		}
		ch <- prom.MustNewConstMetric(cd.desc, prom.CounterValue, float64(v))
	}

	if raw, ok := snap.Histograms[authgate.MetricLoginLatency]; ok {
		count, buckets := c.cumulative(raw)
		// Sum is not tracked by the engine.
		ch <- prom.MustNewConstHistogram(c.latency, count, 0, buckets)
	}

	ch <- prom.MustNewConstMetric(c.dropped, prom.CounterValue, float64(c.source.AuditDropped()))
}

// cumulative turns per-bucket counts into the upper-bound map client_golang
// expects. The final raw bucket is the +Inf overflow and only feeds count.
func (c *Collector) cumulative(raw []uint64) (uint64, map[float64]uint64) {
	buckets := make(map[float64]uint64, len(c.bounds))
	var total uint64
	for i, n := range raw {
		total += n
		if i < len(c.bounds) {
			buckets[c.bounds[i]] = total
		}
	}
	for i := len(raw); i < len(c.bounds); i++ {
		buckets[c.bounds[i]] = total
	}
	return total, buckets
}

// NewRegistry returns a fresh registry holding the engine collector plus the
// Go runtime and process collectors.
func NewRegistry(src Source) *prom.Registry {
	reg := prom.NewRegistry()
	reg.MustRegister(
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves src in the Prometheus exposition format.
func Handler(src Source) http.Handler {
	return promhttp.HandlerFor(NewRegistry(src), promhttp.HandlerOpts{})
}

var _ Source = (*authgate.Engine)(nil)
