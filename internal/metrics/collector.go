// Package metrics exposes Prometheus metrics for the hub.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thub/thub/internal/channel"
)

// StatsSource reports live registry size at scrape time.
type StatsSource interface {
	Stats() channel.Stats
}

// StatsFunc adapts a function to [StatsSource].
type StatsFunc func() channel.Stats

func (f StatsFunc) Stats() channel.Stats { return f() }

// Collector holds the hub metrics. It implements [prometheus.Collector] and
// the audit hook set, so it can be registered and passed as a hook at once.
type Collector struct {
	source StatsSource

	loginsTotal         prometheus.Counter
	channelJoinsTotal   prometheus.Counter
	channelLeavesTotal  prometheus.Counter
	proxyRequestsTotal  *prometheus.CounterVec
	proxyResponsesTotal *prometheus.CounterVec
	proxyDuration       *prometheus.HistogramVec

	channelsActive *prometheus.Desc
	membersActive  *prometheus.Desc
}

// NewCollector creates a collector. source may be nil, in which case the
// active gauges are not reported.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source: source,
		loginsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thub_logins_total",
			Help: "Successful authentications",
		}),
		channelJoinsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thub_channel_connects_total",
			Help: "WebSocket channel joins",
		}),
		channelLeavesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thub_channel_disconnects_total",
			Help: "WebSocket channel leaves",
		}),
		proxyRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thub_proxy_requests_total",
				Help: "Requests forwarded to upstream APIs",
			},
			[]string{"api"},
		),
		proxyResponsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thub_proxy_responses_total",
				Help: "Proxy responses by status class",
			},
			[]string{"api", "class"},
		),
		proxyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "thub_proxy_request_duration_seconds",
				Help:    "Upstream round trip duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"api"},
		),
		channelsActive: prometheus.NewDesc("thub_channels_active", "Channels with at least one member", nil, nil),
		membersActive:  prometheus.NewDesc("thub_channel_members_active", "Connected channel members", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.loginsTotal.Describe(ch)
	c.channelJoinsTotal.Describe(ch)
	c.channelLeavesTotal.Describe(ch)
	c.proxyRequestsTotal.Describe(ch)
	c.proxyResponsesTotal.Describe(ch)
	c.proxyDuration.Describe(ch)
	ch <- c.channelsActive
	ch <- c.membersActive
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.loginsTotal.Collect(ch)
	c.channelJoinsTotal.Collect(ch)
	c.channelLeavesTotal.Collect(ch)
	c.proxyRequestsTotal.Collect(ch)
	c.proxyResponsesTotal.Collect(ch)
	c.proxyDuration.Collect(ch)
	if c.source != nil {
		s := c.source.Stats()
		ch <- prometheus.MustNewConstMetric(c.channelsActive, prometheus.GaugeValue, float64(s.Channels))
		ch <- prometheus.MustNewConstMetric(c.membersActive, prometheus.GaugeValue, float64(s.Members))
	}
}

func (c *Collector) AuthSuccess(string) { c.loginsTotal.Inc() }

// Channel names are user-chosen, so they are never used as labels.
func (c *Collector) ChannelConnect(string, string)    { c.channelJoinsTotal.Inc() }
func (c *Collector) ChannelDisconnect(string, string) { c.channelLeavesTotal.Inc() }

func (c *Collector) ProxyRequest(api, _, _, _ string) {
	c.proxyRequestsTotal.WithLabelValues(api).Inc()
}

func (c *Collector) ProxyResponse(api string, status int) {
	c.proxyResponsesTotal.WithLabelValues(api, StatusClass(status)).Inc()
}

// ObserveProxyDuration records one upstream round trip.
func (c *Collector) ObserveProxyDuration(api string, d time.Duration) {
	c.proxyDuration.WithLabelValues(api).Observe(d.Seconds())
}

// StatusClass buckets an HTTP status as "2xx", "4xx" and so on.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return strconv.Itoa(status/100) + "xx"
}
