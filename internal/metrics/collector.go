package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HubStats is the subset of broadcast.Hub the collector reads at scrape time.
type HubStats interface {
	Count() int
}

// BroadcasterStats is the subset of broadcast.Broadcaster the collector
// reads at scrape time.
type BroadcasterStats interface {
	DroppedCount() uint64
}

// Collector implements prometheus.Collector to read live gauges at scrape
// time rather than requiring every call site to update them directly.
type Collector struct {
	hub   HubStats
	bcast BroadcasterStats

	wsSubscribers *prometheus.Desc
	queueDropped  *prometheus.Desc
}

// NewCollector creates a collector reading live pipeline state at scrape
// time. Either argument may be nil (metrics will report 0).
func NewCollector(hub HubStats, bcast BroadcasterStats) *Collector {
	return &Collector{
		hub:   hub,
		bcast: bcast,
		wsSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "ws_subscribers_current"),
			"Current number of live WebSocket subscribers.",
			nil, nil,
		),
		queueDropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "broadcast", "queue_dropped_current"),
			"Total broadcaster events dropped since startup.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.wsSubscribers
	ch <- c.queueDropped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var subs float64
	if c.hub != nil {
		subs = float64(c.hub.Count())
	}
	ch <- prometheus.MustNewConstMetric(c.wsSubscribers, prometheus.GaugeValue, subs)

	var dropped float64
	if c.bcast != nil {
		dropped = float64(c.bcast.DroppedCount())
	}
	ch <- prometheus.MustNewConstMetric(c.queueDropped, prometheus.GaugeValue, dropped)
}
