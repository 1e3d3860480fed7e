package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Truonghai2/BaultPHP-sub001/app/pages"
	"github.com/Truonghai2/BaultPHP-sub001/core/metrics"
)

// pagesMetrics implements pages.Metrics using Prometheus.
type pagesMetrics struct {
	commandDuration *prometheus.HistogramVec
	commandsTotal   *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
}

func NewPagesMetrics(reg prometheus.Registerer) pages.Metrics {
	m := &pagesMetrics{
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command handling time in seconds",
			Buckets:   defaultBuckets,
		}, []string{"command"}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of handled commands by result",
		}, []string{"command", "result"}),

		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query latency in seconds",
			Buckets:   defaultBuckets,
		}, []string{"query"}),
	}

	reg.MustRegister(
		m.commandDuration,
		m.commandsTotal,
		m.queryDuration,
	)

	return m
}

func (m *pagesMetrics) CommandDuration(command string) metrics.Timer {
	return newTimer(m.commandDuration.WithLabelValues(command))
}

func (m *pagesMetrics) CommandCompleted(command string, result string) {
	m.commandsTotal.WithLabelValues(command, result).Inc()
}

func (m *pagesMetrics) QueryDuration(query string) metrics.Timer {
	return newTimer(m.queryDuration.WithLabelValues(query))
}

var _ pages.Metrics = (*pagesMetrics)(nil)
