// Package metrics exposes Prometheus instruments for the sync and backup
// layer. All methods are safe on a nil *Metrics, so components work
// unchanged when metrics are disabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ProbeResults     *prometheus.CounterVec
	ProbeLatency     *prometheus.HistogramVec
	SyncRuns         *prometheus.CounterVec
	SyncRecords      *prometheus.CounterVec
	PendingRecords   prometheus.Gauge
	OfflineFallbacks prometheus.Counter
	BackupsCreated   *prometheus.CounterVec
	BackupRecords    prometheus.Gauge
	RestoreRecords   *prometheus.CounterVec
	ImportsRejected  prometheus.Counter
}

// New registers the fleetsync instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProbeResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetsync_probe_results_total",
			Help: "Connectivity probe outcomes by probe source",
		}, []string{"source", "result"}),
		ProbeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fleetsync_probe_latency_seconds",
			Help:    "Latency of successful connectivity probes",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		SyncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetsync_sync_runs_total",
			Help: "Sync attempts by outcome",
		}, []string{"result"}),
		SyncRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetsync_sync_records_total",
			Help: "Pending records pushed to the server by outcome",
		}, []string{"op", "result"}),
		PendingRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "fleetsync_pending_records",
			Help: "Registrations waiting for server confirmation",
		}),
		OfflineFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "fleetsync_offline_fallbacks_total",
			Help: "Registration writes that degraded to the offline path",
		}),
		BackupsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetsync_backups_created_total",
			Help: "Snapshots created, partial when a collection could not be fetched",
		}, []string{"kind"}),
		BackupRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "fleetsync_backup_last_record_count",
			Help: "Record count of the most recent snapshot",
		}),
		RestoreRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetsync_restore_records_total",
			Help: "Records pushed during restore by collection and outcome",
		}, []string{"collection", "result"}),
		ImportsRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "fleetsync_imports_rejected_total",
			Help: "Backup imports rejected by integrity validation",
		}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) ObserveProbe(source string, online bool, latency time.Duration) {
	if m == nil {
		return
	}
	m.ProbeResults.WithLabelValues(source, result(online)).Inc()
	if online {
		m.ProbeLatency.WithLabelValues(source).Observe(latency.Seconds())
	}
}

func (m *Metrics) ObserveSyncRun(ok bool) {
	if m == nil {
		return
	}
	m.SyncRuns.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ObserveSyncRecord(op string, ok bool) {
	if m == nil {
		return
	}
	m.SyncRecords.WithLabelValues(op, result(ok)).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingRecords.Set(float64(n))
}

func (m *Metrics) ObserveOfflineFallback() {
	if m == nil {
		return
	}
	m.OfflineFallbacks.Inc()
}

func (m *Metrics) ObserveBackup(records int, partial bool) {
	if m == nil {
		return
	}
	kind := "full"
	if partial {
		kind = "partial"
	}
	m.BackupsCreated.WithLabelValues(kind).Inc()
	m.BackupRecords.Set(float64(records))
}

func (m *Metrics) ObserveRestore(collection string, restored, failed int) {
	if m == nil {
		return
	}
	m.RestoreRecords.WithLabelValues(collection, "success").Add(float64(restored))
	m.RestoreRecords.WithLabelValues(collection, "failure").Add(float64(failed))
}

func (m *Metrics) ObserveImportRejected() {
	if m == nil {
		return
	}
	m.ImportsRejected.Inc()
}
