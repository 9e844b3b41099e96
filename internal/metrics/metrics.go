// Package metrics provides Prometheus metrics for the ShutterLink engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FTP metrics
	ftpLoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shutterlink_ftp_logins_total",
			Help: "Total FTP login attempts",
		},
		[]string{"result"},
	)

	ftpServerUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutterlink_ftp_server_up",
			Help: "Whether the embedded FTP server is listening (1) or stopped (0)",
		},
	)

	// Ingestion metrics
	watcherEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shutterlink_watcher_events_total",
			Help: "Raw filesystem events seen by the watcher",
		},
	)

	filesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shutterlink_files_ingested_total",
			Help: "Files dispatched through the ingest pipeline",
		},
		[]string{"outcome"},
	)

	// Upload relay metrics
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shutterlink_uploads_total",
			Help: "Cloud object uploads",
		},
		[]string{"outcome"},
	)

	uploadRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shutterlink_upload_retries_total",
			Help: "Retried upload or catalog attempts",
		},
	)

	uploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shutterlink_upload_duration_seconds",
			Help:    "End-to-end relay duration per file",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Broadcast metrics
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shutterlink_events_published_total",
			Help: "Ingest events published to UI subscribers",
		},
		[]string{"action"},
	)

	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutterlink_sse_connections_active",
			Help: "Currently connected event stream subscribers",
		},
	)

	// Offline sync queue metrics
	syncQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutterlink_sync_queue_depth",
			Help: "Entries pending in the offline sync queue",
		},
	)

	syncFlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shutterlink_sync_flush_total",
			Help: "Sync queue entry flush results",
		},
		[]string{"result"},
	)
)

// RecordFTPLogin records an FTP login attempt ("success" or "failure").
func RecordFTPLogin(result string) {
	ftpLoginsTotal.WithLabelValues(result).Inc()
}

// SetFTPServerUp sets the FTP server liveness gauge.
func SetFTPServerUp(up bool) {
	if up {
		ftpServerUp.Set(1)
	} else {
		ftpServerUp.Set(0)
	}
}

// RecordWatcherEvent counts a raw watcher event.
func RecordWatcherEvent() {
	watcherEventsTotal.Inc()
}

// RecordFileIngested records a pipeline outcome
// ("uploaded", "rejected", "duplicate", "error").
func RecordFileIngested(outcome string) {
	filesIngestedTotal.WithLabelValues(outcome).Inc()
}

// RecordUpload records a cloud upload outcome ("success", "fallback", "failure").
func RecordUpload(outcome string) {
	uploadsTotal.WithLabelValues(outcome).Inc()
}

// RecordUploadRetry counts a retried network attempt.
func RecordUploadRetry() {
	uploadRetriesTotal.Inc()
}

// ObserveUploadDuration records the end-to-end relay duration.
func ObserveUploadDuration(seconds float64) {
	uploadDuration.Observe(seconds)
}

// RecordEventPublished counts a broadcast event by action.
func RecordEventPublished(action string) {
	eventsPublishedTotal.WithLabelValues(action).Inc()
}

// SetSSEConnectionsActive sets the active subscriber gauge.
func SetSSEConnectionsActive(n int64) {
	sseConnectionsActive.Set(float64(n))
}

// SetSyncQueueDepth sets the pending sync entry gauge.
func SetSyncQueueDepth(n int) {
	syncQueueDepth.Set(float64(n))
}

// RecordSyncFlush records a per-entry flush result ("success" or "failure").
func RecordSyncFlush(result string) {
	syncFlushTotal.WithLabelValues(result).Inc()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
