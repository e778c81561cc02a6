// Package cachifymetrics exposes Prometheus metrics for the cache runtime.
//
// A Registry struct of typed gauges/counters is built once and threaded
// through the managers and the backup proxy.
package cachifymetrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every metric cachify emits.
type Registry struct {
	Hits          *prometheus.CounterVec // labels: flavor
	Misses        *prometheus.CounterVec // labels: flavor
	Evictions     *prometheus.CounterVec // labels: flavor, reason
	RecordsTotal  *prometheus.GaugeVec   // labels: flavor
	SizeInMemory  *prometheus.GaugeVec   // labels: flavor
	EngineErrors  *prometheus.CounterVec // labels: flavor, op
	BackupRecords *prometheus.CounterVec // labels: flavor, direction (backup|restore)
}

// New creates and registers a Registry against reg. Passing nil creates an
// unregistered Registry usable for tests.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachify", Name: "hits_total", Help: "Cache read hits.",
		}, []string{"flavor"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachify", Name: "misses_total", Help: "Cache read misses.",
		}, []string{"flavor"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachify", Name: "evictions_total", Help: "Records removed by eviction, keyed by reason.",
		}, []string{"flavor", "reason"}),
		RecordsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cachify", Name: "records", Help: "Live record count per flavor.",
		}, []string{"flavor"}),
		SizeInMemory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cachify", Name: "size_in_memory_bytes", Help: "Estimated memory-resident size per flavor.",
		}, []string{"flavor"}),
		EngineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachify", Name: "engine_errors_total", Help: "Engine operation failures.",
		}, []string{"flavor", "op"}),
		BackupRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachify", Name: "backup_records_total", Help: "Records streamed during backup/restore.",
		}, []string{"flavor", "direction"}),
	}

	if reg != nil {
		reg.MustRegister(r.Hits, r.Misses, r.Evictions, r.RecordsTotal, r.SizeInMemory, r.EngineErrors, r.BackupRecords)
	}

	return r
}
