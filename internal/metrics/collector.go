package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"tunepull/internal/core"
)

// StatsCollector exports the orchestrator's usage counters as gauges, read
// fresh on every scrape instead of being pushed.
type StatsCollector struct {
	stats func() core.Stats

	liveSessions *prometheus.Desc
	jobsByStatus *prometheus.Desc
	storageUsed  *prometheus.Desc
}

// NewStatsCollector builds a collector around a stats source.
func NewStatsCollector(stats func() core.Stats) *StatsCollector {
	return &StatsCollector{
		stats: stats,
		liveSessions: prometheus.NewDesc(
			"tunepull_sessions_live",
			"Number of sessions inside their TTL.",
			nil, nil,
		),
		jobsByStatus: prometheus.NewDesc(
			"tunepull_jobs",
			"Number of job records partitioned by status.",
			[]string{"status"}, nil,
		),
		storageUsed: prometheus.NewDesc(
			"tunepull_storage_used_bytes",
			"Bytes consumed by download artifacts on disk.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.liveSessions
	ch <- c.jobsByStatus
	ch <- c.storageUsed
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.stats()
	ch <- prometheus.MustNewConstMetric(
		c.liveSessions, prometheus.GaugeValue, float64(stats.LiveSessions))
	for status, count := range stats.JobsByStatus {
		ch <- prometheus.MustNewConstMetric(
			c.jobsByStatus, prometheus.GaugeValue, float64(count), string(status))
	}
	ch <- prometheus.MustNewConstMetric(
		c.storageUsed, prometheus.GaugeValue, float64(stats.StorageUsedBytes))
}

var _ prometheus.Collector = (*StatsCollector)(nil)
