// Package metrics provides Prometheus metrics for the storage engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics holds all Prometheus metrics for one engine instance.
type EngineMetrics struct {
	// Entity store
	RecordsAppended *prometheus.CounterVec // labels: entity_type
	BytesWritten    *prometheus.CounterVec // labels: entity_type
	Reads           *prometheus.CounterVec // labels: entity_type
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter

	// Lifecycle
	Transitions  *prometheus.CounterVec // labels: from, to
	GuardsFailed prometheus.Counter
	SweepRuns    prometheus.Counter
	SweepDeleted prometheus.Counter
	SweepErrors  prometheus.Counter

	// Wiper
	WipesVerified prometheus.Counter
	WipesFailed   prometheus.Counter
	BytesWiped    prometheus.Counter

	// Disk monitor
	DiskFreeBytes  prometheus.Gauge
	DiskUsedBytes  prometheus.Gauge
	DiskAlertLevel prometheus.Gauge // 0=ok 1=warning 2=critical 3=emergency
	OrphanedLogs   prometheus.Gauge

	// Streamer
	ActiveStreams  prometheus.Gauge
	StreamsServed  prometheus.Counter
	StreamsRefused prometheus.Counter
	TokensIssued   prometheus.Counter
	TokensRejected prometheus.Counter
}

// NewRegistry creates a Prometheus registry with the standard Go and
// process collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// New initializes all engine metrics on the given registry.
func New(reg prometheus.Registerer) *EngineMetrics {
	return &EngineMetrics{
		RecordsAppended: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "coldvault_records_appended_total",
			Help: "Records appended to entity logs",
		}, []string{"entity_type"}),
		BytesWritten: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "coldvault_bytes_written_total",
			Help: "Bytes appended to entity logs",
		}, []string{"entity_type"}),
		Reads: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "coldvault_reads_total",
			Help: "Entity read operations",
		}, []string{"entity_type"}),
		CacheHits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldvault_cache_hits_total",
			Help: "Entity reads served from the in-memory cache",
		}),
		CacheMisses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldvault_cache_misses_total",
			Help: "Entity reads that fell through to disk",
		}),
		Transitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "coldvault_lifecycle_transitions_total",
			Help: "Successful lifecycle state transitions",
		}, []string{"from", "to"}),
		GuardsFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldvault_lifecycle_guards_failed_total",
			Help: "Deletion attempts refused by guard evaluation",
		}),
		SweepRuns: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldvault_sweep_runs_total",
			Help: "Retention sweep executions",
		}),
		SweepDeleted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldvault_sweep_deleted_total",
			Help: "Entities securely deleted by the sweep",
		}),
		SweepErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldvault_sweep_errors_total",
			Help: "Per-entity failures during sweeps",
		}),
		WipesVerified: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldvault_wipes_verified_total",
			Help: "Secure wipes with verified overwrite proofs",
		}),
		WipesFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldvault_wipes_failed_total",
			Help: "Secure wipes that failed or did not verify",
		}),
		BytesWiped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldvault_bytes_wiped_total",
			Help: "Bytes overwritten by the secure wiper",
		}),
		DiskFreeBytes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "coldvault_disk_free_bytes",
			Help: "Free bytes on the storage volume",
		}),
		DiskUsedBytes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "coldvault_disk_used_bytes",
			Help: "Used bytes on the storage volume",
		}),
		DiskAlertLevel: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "coldvault_disk_alert_level",
			Help: "Current disk alert level (0=ok 1=warning 2=critical 3=emergency)",
		}),
		OrphanedLogs: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "coldvault_orphaned_logs",
			Help: "Log files without corresponding metadata, per last health check",
		}),
		ActiveStreams: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "coldvault_active_streams",
			Help: "Video streams currently being served",
		}),
		StreamsServed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldvault_streams_served_total",
			Help: "Video stream requests served",
		}),
		StreamsRefused: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldvault_streams_refused_total",
			Help: "Video stream requests refused (limit reached)",
		}),
		TokensIssued: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldvault_tokens_issued_total",
			Help: "Video access tokens issued",
		}),
		TokensRejected: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "coldvault_tokens_rejected_total",
			Help: "Video access tokens rejected at verification",
		}),
	}
}
