// Package metrics exposes the Prometheus surface for a kvstore process:
// per-subsystem gauge/counter groups covering the
// read/write/compaction/scan/revision paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric a kvstore process reports.
type Metrics struct {
	// Get/Set/Delete operation metrics
	GetRequestsTotal      prometheus.Counter
	GetRequestsDuration   prometheus.Histogram
	GetRequestsBytes      prometheus.Histogram
	MutateRequestsTotal   prometheus.CounterVec // labeled "set"/"delete"
	MutateRequestsDuration prometheus.Histogram
	CommitRequestsTotal   prometheus.Counter
	CommitRequestsDuration prometheus.Histogram

	// Revision file metrics
	RevisionFileSizeBytes  prometheus.GaugeVec // labeled by vbucket_id
	RevisionFileItemsTotal prometheus.GaugeVec
	RevisionOpensTotal     prometheus.Counter
	ReplayDuration         prometheus.Histogram
	ReplayTruncationsTotal prometheus.Counter

	// Compaction metrics
	CompactionRunsTotal      prometheus.CounterVec // labeled by status
	CompactionDuration       prometheus.Histogram
	CompactionBytesRewritten prometheus.Counter
	CompactionItemsDropped   prometheus.Counter

	// Rollback and scan metrics
	RollbackRequestsTotal prometheus.Counter
	RollbackDuration      prometheus.Histogram
	ScansActive           prometheus.Gauge
	ScansOpenedTotal       prometheus.Counter

	// Disk guard metrics
	DiskCircuitBreakerEngaged prometheus.Gauge
	DiskThrottleEngaged       prometheus.Gauge
	DiskRejectedWritesTotal   prometheus.Counter

	// System metrics
	DiskUsageBytes     prometheus.Gauge
	DiskAvailableBytes prometheus.Gauge
	DiskUsagePercent   prometheus.Gauge
	MemoryUsageBytes   prometheus.Gauge
	GoroutinesTotal    prometheus.Gauge
}

// NewMetrics creates and registers every Prometheus metric for nodeID.
func NewMetrics(nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		GetRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "kvstore", Subsystem: "core", Name: "get_requests_total",
			Help: "Total number of Get/GetMulti requests", ConstLabels: labels,
		}),
		GetRequestsDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kvstore", Subsystem: "core", Name: "get_request_duration_seconds",
			Help: "Histogram of Get/GetMulti durations", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),
		GetRequestsBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kvstore", Subsystem: "core", Name: "get_response_bytes",
			Help: "Histogram of Get response value sizes", ConstLabels: labels,
			Buckets: prometheus.ExponentialBuckets(256, 2, 12),
		}),
		MutateRequestsTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvstore", Subsystem: "core", Name: "mutate_requests_total",
			Help: "Total number of Set/Delete requests by operation", ConstLabels: labels,
		}, []string{"op"}),
		MutateRequestsDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kvstore", Subsystem: "core", Name: "mutate_request_duration_seconds",
			Help: "Histogram of Set/Delete durations", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),
		CommitRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "kvstore", Subsystem: "core", Name: "commit_requests_total",
			Help: "Total number of Commit calls", ConstLabels: labels,
		}),
		CommitRequestsDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kvstore", Subsystem: "core", Name: "commit_duration_seconds",
			Help: "Histogram of Commit durations, including the fsync", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),

		RevisionFileSizeBytes: *promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kvstore", Subsystem: "revision", Name: "file_size_bytes",
			Help: "Current size of a vBucket's revision file", ConstLabels: labels,
		}, []string{"vbucket_id"}),
		RevisionFileItemsTotal: *promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kvstore", Subsystem: "revision", Name: "items_total",
			Help: "Current number of live keys indexed for a vBucket", ConstLabels: labels,
		}, []string{"vbucket_id"}),
		RevisionOpensTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "kvstore", Subsystem: "revision", Name: "opens_total",
			Help: "Total number of revision files opened (including replay)", ConstLabels: labels,
		}),
		ReplayDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kvstore", Subsystem: "revision", Name: "replay_duration_seconds",
			Help: "Histogram of replay durations on revision file open", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),
		ReplayTruncationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "kvstore", Subsystem: "revision", Name: "replay_truncations_total",
			Help: "Total number of replays that discarded a truncated trailing batch", ConstLabels: labels,
		}),

		CompactionRunsTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvstore", Subsystem: "compaction", Name: "runs_total",
			Help: "Total number of CompactDB runs by outcome", ConstLabels: labels,
		}, []string{"status"}),
		CompactionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kvstore", Subsystem: "compaction", Name: "duration_seconds",
			Help: "Histogram of CompactDB durations", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),
		CompactionBytesRewritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "kvstore", Subsystem: "compaction", Name: "bytes_rewritten_total",
			Help: "Total bytes written to fresh revision files during compaction", ConstLabels: labels,
		}),
		CompactionItemsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "kvstore", Subsystem: "compaction", Name: "items_dropped_total",
			Help: "Total items dropped by the keep predicate during compaction", ConstLabels: labels,
		}),

		RollbackRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "kvstore", Subsystem: "core", Name: "rollback_requests_total",
			Help: "Total number of Rollback calls", ConstLabels: labels,
		}),
		RollbackDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kvstore", Subsystem: "core", Name: "rollback_duration_seconds",
			Help: "Histogram of Rollback durations", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),
		ScansActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvstore", Subsystem: "scan", Name: "active",
			Help: "Current number of open scan contexts", ConstLabels: labels,
		}),
		ScansOpenedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "kvstore", Subsystem: "scan", Name: "opened_total",
			Help: "Total number of scan contexts opened", ConstLabels: labels,
		}),

		DiskCircuitBreakerEngaged: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvstore", Subsystem: "diskguard", Name: "circuit_breaker_engaged",
			Help: "1 if the disk circuit breaker is currently engaged", ConstLabels: labels,
		}),
		DiskThrottleEngaged: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvstore", Subsystem: "diskguard", Name: "throttle_engaged",
			Help: "1 if disk write throttling is currently engaged", ConstLabels: labels,
		}),
		DiskRejectedWritesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "kvstore", Subsystem: "diskguard", Name: "rejected_writes_total",
			Help: "Total commits rejected by the disk guard", ConstLabels: labels,
		}),

		DiskUsageBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvstore", Subsystem: "system", Name: "disk_usage_bytes",
			Help: "Current disk usage in bytes", ConstLabels: labels,
		}),
		DiskAvailableBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvstore", Subsystem: "system", Name: "disk_available_bytes",
			Help: "Available disk space in bytes", ConstLabels: labels,
		}),
		DiskUsagePercent: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvstore", Subsystem: "system", Name: "disk_usage_percent",
			Help: "Disk usage percentage", ConstLabels: labels,
		}),
		MemoryUsageBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvstore", Subsystem: "system", Name: "memory_usage_bytes",
			Help: "Current process memory usage in bytes", ConstLabels: labels,
		}),
		GoroutinesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvstore", Subsystem: "system", Name: "goroutines_total",
			Help: "Current number of goroutines", ConstLabels: labels,
		}),
	}
}

// RecordGet records a Get/GetMulti call.
func (m *Metrics) RecordGet(duration float64, bytes int) {
	m.GetRequestsTotal.Inc()
	m.GetRequestsDuration.Observe(duration)
	m.GetRequestsBytes.Observe(float64(bytes))
}

// RecordMutate records a Set or Delete call.
func (m *Metrics) RecordMutate(op string, duration float64) {
	m.MutateRequestsTotal.WithLabelValues(op).Inc()
	m.MutateRequestsDuration.Observe(duration)
}

// RecordCommit records a Commit call.
func (m *Metrics) RecordCommit(duration float64) {
	m.CommitRequestsTotal.Inc()
	m.CommitRequestsDuration.Observe(duration)
}

// UpdateRevisionStats updates the per-vBucket revision file gauges.
func (m *Metrics) UpdateRevisionStats(vbucketID string, sizeBytes int64, items int64) {
	m.RevisionFileSizeBytes.WithLabelValues(vbucketID).Set(float64(sizeBytes))
	m.RevisionFileItemsTotal.WithLabelValues(vbucketID).Set(float64(items))
}

// RecordRevisionOpen records a revision file open, including its replay.
func (m *Metrics) RecordRevisionOpen(replayDuration float64, truncated bool) {
	m.RevisionOpensTotal.Inc()
	m.ReplayDuration.Observe(replayDuration)
	if truncated {
		m.ReplayTruncationsTotal.Inc()
	}
}

// RecordCompaction records the outcome of a CompactDB run.
func (m *Metrics) RecordCompaction(status string, duration float64, bytesRewritten int64, itemsDropped int64) {
	m.CompactionRunsTotal.WithLabelValues(status).Inc()
	m.CompactionDuration.Observe(duration)
	m.CompactionBytesRewritten.Add(float64(bytesRewritten))
	m.CompactionItemsDropped.Add(float64(itemsDropped))
}

// RecordRollback records a Rollback call.
func (m *Metrics) RecordRollback(duration float64) {
	m.RollbackRequestsTotal.Inc()
	m.RollbackDuration.Observe(duration)
}

// ScanOpened records a scan context being opened; ScanClosed reverses it.
func (m *Metrics) ScanOpened() {
	m.ScansOpenedTotal.Inc()
	m.ScansActive.Inc()
}

// ScanClosed reverses a prior ScanOpened.
func (m *Metrics) ScanClosed() {
	m.ScansActive.Dec()
}

// UpdateDiskGuardState reflects the disk guard's current throttle/circuit
// breaker state.
func (m *Metrics) UpdateDiskGuardState(throttled, circuitBroken bool) {
	m.DiskThrottleEngaged.Set(boolToFloat(throttled))
	m.DiskCircuitBreakerEngaged.Set(boolToFloat(circuitBroken))
}

// RecordDiskRejectedWrite records a commit rejected by the disk guard.
func (m *Metrics) RecordDiskRejectedWrite() {
	m.DiskRejectedWritesTotal.Inc()
}

// UpdateSystemStats updates process-wide system gauges.
func (m *Metrics) UpdateSystemStats(diskUsage, diskAvailable, memoryUsage int64, goroutines int) {
	m.DiskUsageBytes.Set(float64(diskUsage))
	m.DiskAvailableBytes.Set(float64(diskAvailable))
	if diskUsage+diskAvailable > 0 {
		m.DiskUsagePercent.Set(float64(diskUsage) / float64(diskUsage+diskAvailable) * 100)
	}
	m.MemoryUsageBytes.Set(float64(memoryUsage))
	m.GoroutinesTotal.Set(float64(goroutines))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
