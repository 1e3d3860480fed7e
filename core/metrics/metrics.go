// Package metrics provides the abstract instrumentation types used by the
// event-sourcing core so that backends (Prometheus, ...) can be plugged in
// without the core importing them.
package metrics

import "time"

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes to record the elapsed time.
type Timer interface {
	// ObserveDuration records the elapsed time since the timer was created.
	ObserveDuration()
}

// ObserverFunc receives an elapsed duration in seconds.
type ObserverFunc func(seconds float64)

type funcTimer struct {
	observe ObserverFunc
	start   time.Time
}

func (t *funcTimer) ObserveDuration() { t.observe(time.Since(t.start).Seconds()) }

// StartTimer returns a Timer that reports to observe.
func StartTimer(observe ObserverFunc) Timer {
	return &funcTimer{observe: observe, start: time.Now()}
}
