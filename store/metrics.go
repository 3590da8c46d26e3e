package store

import "github.com/prometheus/client_golang/prometheus"

// Collector exports store sizes as Prometheus gauges. Values are read at
// scrape time.
type Collector struct {
	store       *Store
	entries     *prometheus.Desc
	connections *prometheus.Desc
	watchers    *prometheus.Desc
}

// NewCollector returns a collector for s. Register it with a
// prometheus.Registerer owned by the application.
func NewCollector(s *Store) *Collector {
	return &Collector{
		store: s,
		entries: prometheus.NewDesc(
			"graphsync_store_entries",
			"Number of fragments held in the cache.",
			nil, nil,
		),
		connections: prometheus.NewDesc(
			"graphsync_store_connections",
			"Number of cached list connections.",
			nil, nil,
		),
		watchers: prometheus.NewDesc(
			"graphsync_store_watchers",
			"Number of registered watch callbacks.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.connections
	ch <- c.watchers
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(c.store.Len()))
	ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(c.store.ConnectionCount()))
	ch <- prometheus.MustNewConstMetric(c.watchers, prometheus.GaugeValue, float64(c.store.WatcherCount()))
}
