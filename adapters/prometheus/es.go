package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	// Store metrics
	storeLoadDuration   *prometheus.HistogramVec
	storeAppendDuration *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec

	// Repository metrics
	repoLoadDuration     *prometheus.HistogramVec
	repoSaveDuration     *prometheus.HistogramVec
	concurrencyConflicts *prometheus.CounterVec
	commandRetries       *prometheus.CounterVec

	// Snapshot metrics
	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec
	snapshotsSkipped     *prometheus.CounterVec
	snapshotsFailed      *prometheus.CounterVec

	// Projection metrics
	projectionEventDuration *prometheus.HistogramVec
	projectionEvents        *prometheus.CounterVec
	projectionCheckpoint    *prometheus.GaugeVec
}

// NewESMetrics creates a new Prometheus implementation of ESMetrics.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		storeLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_store_load_duration_seconds",
			Help:      "Event store load latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		storeAppendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_store_append_duration_seconds",
			Help:      "Event store append latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_events_appended_total",
			Help:      "Total number of events appended",
		}, []string{"aggregate_type"}),

		repoLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_repo_load_duration_seconds",
			Help:      "Repository load latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		repoSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_repo_save_duration_seconds",
			Help:      "Repository save latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_concurrency_conflicts_total",
			Help:      "Total number of optimistic lock failures",
		}, []string{"aggregate_type"}),

		commandRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_command_retries_total",
			Help:      "Total number of commands re-run after a conflict",
		}, []string{"aggregate_type"}),

		snapshotLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_snapshot_load_duration_seconds",
			Help:      "Snapshot load latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		snapshotSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_snapshot_save_duration_seconds",
			Help:      "Snapshot save latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"aggregate_type"}),

		snapshotsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_snapshots_skipped_total",
			Help:      "Total number of stored snapshots ignored while loading",
		}, []string{"aggregate_type", "reason"}),

		snapshotsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_snapshots_failed_total",
			Help:      "Total number of snapshots that could not be saved",
		}, []string{"aggregate_type"}),

		projectionEventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "es_projection_event_duration_seconds",
			Help:      "Projection event handling time in seconds",
			Buckets:   defaultBuckets,
		}, []string{"projection", "event_type"}),

		projectionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "es_projection_events_total",
			Help:      "Total number of events handled by projections",
		}, []string{"projection", "event_type", "success"}),

		projectionCheckpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "es_projection_checkpoint",
			Help:      "Global position of the last checkpoint per projection",
		}, []string{"projection"}),
	}

	reg.MustRegister(
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.concurrencyConflicts,
		m.commandRetries,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
		m.snapshotsSkipped,
		m.snapshotsFailed,
		m.projectionEventDuration,
		m.projectionEvents,
		m.projectionCheckpoint,
	)

	return m
}

func (m *esMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CommandRetry(aggType string) {
	m.commandRetries.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) SnapshotLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotSkipped(aggType string, reason string) {
	m.snapshotsSkipped.WithLabelValues(aggType, reason).Inc()
}

func (m *esMetrics) SnapshotFailed(aggType string) {
	m.snapshotsFailed.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) ProjectionEventDuration(projection, eventType string) metrics.Timer {
	return newTimer(m.projectionEventDuration.WithLabelValues(projection, eventType))
}

func (m *esMetrics) ProjectionEventProcessed(projection, eventType string, success bool) {
	m.projectionEvents.WithLabelValues(projection, eventType, boolToStr(success)).Inc()
}

func (m *esMetrics) ProjectionCheckpoint(projection string, seq uint64) {
	m.projectionCheckpoint.WithLabelValues(projection).Set(float64(seq))
}

var _ es.ESMetrics = (*esMetrics)(nil)
