package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PoolGauges reports the instantaneous pool occupancy.
type PoolGauges func() (idle, leased, max int)

type counterDesc struct {
	desc  *prometheus.Desc
	value func(Snapshot) float64
}

// Exporter publishes a Collector to Prometheus.  Values are read from
// a Snapshot on every scrape, so the hot path never touches the
// Prometheus client.
type Exporter struct {
	c        *Collector
	pool     PoolGauges
	counters []counterDesc

	active, idle, leased, max *prometheus.Desc
}

// NewExporter builds an Exporter; pool may be nil.
func NewExporter(c *Collector, namespace string, pool PoolGauges) *Exporter {
	if namespace == "" {
		namespace = "gonntp"
	}
	name := func(n string) string { return prometheus.BuildFQName(namespace, "", n) }
	counter := func(n, help string, f func(Snapshot) float64) counterDesc {
		return counterDesc{desc: prometheus.NewDesc(name(n), help, nil, nil), value: f}
	}

	return &Exporter{
		c:    c,
		pool: pool,
		counters: []counterDesc{
			counter("sessions_total", "Sessions opened.", func(s Snapshot) float64 { return float64(s.SessionsTotal) }),
			counter("commands_total", "Command round trips.", func(s Snapshot) float64 { return float64(s.Commands) }),
			counter("received_bytes_total", "Bytes read from the network.", func(s Snapshot) float64 { return float64(s.BytesIn) }),
			counter("sent_bytes_total", "Bytes written to the network.", func(s Snapshot) float64 { return float64(s.BytesOut) }),
			counter("compressed_bytes_total", "Compressed bytes received.", func(s Snapshot) float64 { return float64(s.CompressedBytes) }),
			counter("decompressed_bytes_total", "Bytes after decompression.", func(s Snapshot) float64 { return float64(s.DecompressedBytes) }),
			counter("leases_total", "Leases handed out by the pool.", func(s Snapshot) float64 { return float64(s.Leases) }),
			counter("lease_wait_seconds_total", "Time spent waiting for a lease.", func(s Snapshot) float64 { return s.LeaseWaitSeconds }),
			counter("evictions_total", "Sessions evicted by the pool.", func(s Snapshot) float64 { return float64(s.Evictions) }),
			counter("retries_total", "Retried attempts.", func(s Snapshot) float64 { return float64(s.Retries) }),
			counter("health_checks_total", "Liveness checks run.", func(s Snapshot) float64 { return float64(s.HealthChecks) }),
			counter("health_check_failures_total", "Liveness checks failed.", func(s Snapshot) float64 { return float64(s.HealthFailures) }),
			counter("segments_fetched_total", "Segments downloaded.", func(s Snapshot) float64 { return float64(s.SegmentsOK) }),
			counter("segments_failed_total", "Segments that could not be downloaded.", func(s Snapshot) float64 { return float64(s.SegmentsFailed) }),
			counter("cache_hits_total", "Segments served from memory.", func(s Snapshot) float64 { return float64(s.CacheHits) }),
			counter("errors_total", "Errors recorded.", func(s Snapshot) float64 { return float64(s.ErrorsTotal) }),
		},
		active: prometheus.NewDesc(name("sessions_active"), "Open sessions.", nil, nil),
		idle:   prometheus.NewDesc(name("pool_idle"), "Idle sessions in the pool.", nil, nil),
		leased: prometheus.NewDesc(name("pool_leased"), "Sessions currently leased.", nil, nil),
		max:    prometheus.NewDesc(name("pool_max"), "Pool capacity.", nil, nil),
	}
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	ch <- e.active
	if e.pool != nil {
		ch <- e.idle
		ch <- e.leased
		ch <- e.max
	}
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.c.Snapshot()
	for _, c := range e.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, c.value(s))
	}
	ch <- prometheus.MustNewConstMetric(e.active, prometheus.GaugeValue, float64(s.SessionsActive))
	if e.pool != nil {
		idle, leased, max := e.pool()
		ch <- prometheus.MustNewConstMetric(e.idle, prometheus.GaugeValue, float64(idle))
		ch <- prometheus.MustNewConstMetric(e.leased, prometheus.GaugeValue, float64(leased))
		ch <- prometheus.MustNewConstMetric(e.max, prometheus.GaugeValue, float64(max))
	}
}
