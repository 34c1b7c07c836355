package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HubStats exposes live EventBus registry sizes.
type HubStats interface {
	ClientCount() int
	RoomCount() int
}

// CacheStats exposes the tenant directory cache size.
type CacheStats interface {
	CachedTenants() int
}

// Collector is a prometheus.Collector that reads gauges at scrape time.
// Any provider may be nil if unavailable.
type Collector struct {
	hub       HubStats
	cache     CacheStats
	startTime time.Time

	clientsDesc *prometheus.Desc
	roomsDesc   *prometheus.Desc
	cachedDesc  *prometheus.Desc
	uptimeDesc  *prometheus.Desc
}

func NewCollector(hub HubStats, cache CacheStats, startTime time.Time) *Collector {
	return &Collector{
		hub:       hub,
		cache:     cache,
		startTime: startTime,

		clientsDesc: prometheus.NewDesc(
			"softphone_eventbus_clients",
			"Number of connected realtime clients",
			nil, nil,
		),
		roomsDesc: prometheus.NewDesc(
			"softphone_eventbus_rooms",
			"Number of rooms with at least one subscriber",
			nil, nil,
		),
		cachedDesc: prometheus.NewDesc(
			"softphone_tenant_cache_entries",
			"Tenants currently held in the credential cache",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"softphone_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.clientsDesc
	ch <- c.roomsDesc
	ch <- c.cachedDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.hub != nil {
		ch <- prometheus.MustNewConstMetric(c.clientsDesc, prometheus.GaugeValue, float64(c.hub.ClientCount()))
		ch <- prometheus.MustNewConstMetric(c.roomsDesc, prometheus.GaugeValue, float64(c.hub.RoomCount()))
	}
	if c.cache != nil {
		ch <- prometheus.MustNewConstMetric(c.cachedDesc, prometheus.GaugeValue, float64(c.cache.CachedTenants()))
	}
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}
