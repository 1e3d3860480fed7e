package es

import "github.com/Truonghai2/BaultPHP-sub001/core/metrics"

// ESMetrics defines the metrics interface for the event-sourcing core.
// Implementations must be safe for concurrent use.
type ESMetrics interface {
	// Store operations
	StoreLoadDuration(aggType string) metrics.Timer
	StoreAppendDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)

	// Repository operations
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer
	ConcurrencyConflict(aggType string)
	CommandRetry(aggType string)

	// Snapshots
	SnapshotLoadDuration(aggType string) metrics.Timer
	SnapshotSaveDuration(aggType string) metrics.Timer
	SnapshotSkipped(aggType string, reason string)
	SnapshotFailed(aggType string)

	// Projections
	ProjectionEventDuration(projection, eventType string) metrics.Timer
	ProjectionEventProcessed(projection, eventType string, success bool)
	ProjectionCheckpoint(projection string, seq uint64)
}

type nopESMetrics struct{}

func (nopESMetrics) StoreLoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)               {}

func (nopESMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) ConcurrencyConflict(string)            {}
func (nopESMetrics) CommandRetry(string)                   {}

func (nopESMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SnapshotSkipped(string, string)            {}
func (nopESMetrics) SnapshotFailed(string)                     {}

func (nopESMetrics) ProjectionEventDuration(string, string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) ProjectionEventProcessed(string, string, bool)        {}
func (nopESMetrics) ProjectionCheckpoint(string, uint64)                  {}

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }

// ESMetricsOption sets the metrics for ES components.
type ESMetricsOption struct{ m ESMetrics }

// WithMetrics sets the metrics implementation for ES components.
func WithMetrics(m ESMetrics) ESMetricsOption { return ESMetricsOption{m: m} }

func (o ESMetricsOption) applyToEnv(e *envOptions)                 { e.metrics = o.m }
func (o ESMetricsOption) applyToRepository(r *repoOpts)            { r.metrics = o.m }
func (o ESMetricsOption) applyToProjectionRunner(p *runnerOptions) { p.metrics = o.m }
