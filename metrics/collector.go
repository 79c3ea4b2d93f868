// Package metrics exports record store, index and aggregator figures to
// Prometheus. Values are computed on each scrape; nothing is cached.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/aschepis/memvault/search"
	"github.com/aschepis/memvault/stats"
)

const namespace = "memvault"

// IndexStatsSource provides index metadata.
type IndexStatsSource interface {
	GetStats(ctx context.Context) (search.Stats, error)
}

// StatsSource provides aggregator views.
type StatsSource interface {
	Summary(ctx context.Context) (stats.Summary, error)
	TypeDistribution(ctx context.Context) ([]stats.TypeCount, error)
}

// Collector is a prometheus.Collector polling an index and an aggregator.
type Collector struct {
	index   IndexStatsSource
	stats   StatsSource
	logger  zerolog.Logger
	timeout time.Duration

	memories          *prometheus.Desc
	expiredPending    *prometheus.Desc
	storageBytes      *prometheus.Desc
	activeConnections *prometheus.Desc
	memoriesByType    *prometheus.Desc
	indexDocuments    *prometheus.Desc
	indexAvgLength    *prometheus.Desc
	indexLastUpdate   *prometheus.Desc
	scrapeErrors      prometheus.Counter
}

// NewCollector creates a Collector. Each scrape is bounded by timeout.
func NewCollector(index IndexStatsSource, src StatsSource, logger zerolog.Logger, timeout time.Duration) *Collector {
	return &Collector{
		index:   index,
		stats:   src,
		logger:  logger.With().Str("component", "metrics").Logger(),
		timeout: timeout,

		memories: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "memories"),
			"Number of non-expired memory records.", nil, nil),
		expiredPending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "memories_expired_pending"),
			"Number of expired memory records not yet purged.", nil, nil),
		storageBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "storage_bytes"),
			"Size of the database file in bytes.", nil, nil),
		activeConnections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_connections"),
			"Number of database connections in use.", nil, nil),
		memoriesByType: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "memories_by_type"),
			"Number of non-expired memory records per type.", []string{"type"}, nil),
		indexDocuments: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "documents"),
			"Number of search index entries at the last index update.", nil, nil),
		indexAvgLength: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "avg_length"),
			"Mean content length of search index entries at the last index update.", nil, nil),
		indexLastUpdate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "index", "last_update_timestamp_seconds"),
			"Unix time of the last search index update, 0 if never updated.", nil, nil),
		scrapeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scrape_errors_total",
			Help:      "Number of failed reads while collecting metrics.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.memories
	ch <- c.expiredPending
	ch <- c.storageBytes
	ch <- c.activeConnections
	ch <- c.memoriesByType
	ch <- c.indexDocuments
	ch <- c.indexAvgLength
	ch <- c.indexLastUpdate
	c.scrapeErrors.Describe(ch)
}

// Collect implements prometheus.Collector. A failed read skips its metrics
// and increments the scrape error counter.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if summary, err := c.stats.Summary(ctx); err != nil {
		c.fail("Summary", err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.memories, prometheus.GaugeValue, float64(summary.TotalMemories))
		ch <- prometheus.MustNewConstMetric(c.expiredPending, prometheus.GaugeValue, float64(summary.ExpiredPending))
		ch <- prometheus.MustNewConstMetric(c.storageBytes, prometheus.GaugeValue, float64(summary.StorageBytes))
		ch <- prometheus.MustNewConstMetric(c.activeConnections, prometheus.GaugeValue, float64(summary.ActiveConnections))
	}

	if types, err := c.stats.TypeDistribution(ctx); err != nil {
		c.fail("TypeDistribution", err)
	} else {
		for _, tc := range types {
			ch <- prometheus.MustNewConstMetric(c.memoriesByType, prometheus.GaugeValue, float64(tc.Count), string(tc.Type))
		}
	}

	if idx, err := c.index.GetStats(ctx); err != nil {
		c.fail("GetStats", err)
	} else {
		var lastUpdate float64
		if idx.LastUpdate != nil {
			lastUpdate = float64(idx.LastUpdate.UnixNano()) / 1e9
		}
		ch <- prometheus.MustNewConstMetric(c.indexDocuments, prometheus.GaugeValue, float64(idx.TotalDocuments))
		ch <- prometheus.MustNewConstMetric(c.indexAvgLength, prometheus.GaugeValue, idx.AvgLength)
		ch <- prometheus.MustNewConstMetric(c.indexLastUpdate, prometheus.GaugeValue, lastUpdate)
	}

	c.scrapeErrors.Collect(ch)
}

func (c *Collector) fail(source string, err error) {
	c.scrapeErrors.Inc()
	c.logger.Error().Str("source", source).Err(err).Msg("Failed to collect metrics")
}
