package storage

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes a handful of Pebble engine gauges as Prometheus
// metrics, condensed from the teacher's pebble_collector.go (which tracks
// every compaction/memtable/WAL counter pebble.Metrics exposes) down to the
// subset relevant to a query-serving workload: how much is queued to
// compact and how large the active memtable and WAL are.
type Collector struct {
	store *Store

	compactionDebt  *prometheus.Desc
	memtableSize    *prometheus.Desc
	walSize         *prometheus.Desc
	walBytesWritten *prometheus.Desc
}

func NewCollector(store *Store) *Collector {
	return &Collector{
		store: store,
		compactionDebt: prometheus.NewDesc(
			"asyncquery_storage_compaction_debt_bytes",
			"Estimated bytes pending compaction in the row store",
			nil, nil,
		),
		memtableSize: prometheus.NewDesc(
			"asyncquery_storage_memtable_size_bytes",
			"Current memtable size",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			"asyncquery_storage_wal_size_bytes",
			"Size of live WAL data",
			nil, nil,
		),
		walBytesWritten: prometheus.NewDesc(
			"asyncquery_storage_wal_bytes_written_total",
			"Total physical bytes written to the WAL",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.compactionDebt
	ch <- c.memtableSize
	ch <- c.walSize
	ch <- c.walBytesWritten
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.store.db.Metrics()
	ch <- prometheus.MustNewConstMetric(c.compactionDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(c.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(c.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
	ch <- prometheus.MustNewConstMetric(c.walBytesWritten, prometheus.CounterValue, float64(m.WAL.BytesWritten))
}
