// Package prometheus provides Prometheus implementations of the metrics
// interfaces of the event-sourcing core and the pages service.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Truonghai2/BaultPHP-sub001/core/metrics"
)

const namespace = "pagestore"

// timer wraps a Prometheus histogram to implement the Timer interface.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics holds the Prometheus implementations for the event store and
// the pages service registered on one registry.
type AllMetrics struct {
	ES    *esMetrics
	Pages *pagesMetrics
}

func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		ES:    NewESMetrics(reg).(*esMetrics),
		Pages: NewPagesMetrics(reg).(*pagesMetrics),
	}
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
