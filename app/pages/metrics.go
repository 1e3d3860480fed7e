package pages

import (
	"errors"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/core/metrics"
)

// Metrics instruments the service. adapters/prometheus provides an
// implementation.
type Metrics interface {
	CommandDuration(command string) metrics.Timer
	CommandCompleted(command string, result string)
	QueryDuration(query string) metrics.Timer
}

type nopMetrics struct{}

func (nopMetrics) CommandDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) CommandCompleted(string, string)      {}
func (nopMetrics) QueryDuration(string) metrics.Timer   { return metrics.NopTimer() }

func NopMetrics() Metrics { return nopMetrics{} }

// Command results reported to Metrics.CommandCompleted.
const (
	ResultOK        = "ok"
	ResultInvalid   = "invalid"
	ResultNotFound  = "not_found"
	ResultInvariant = "invariant"
	ResultConflict  = "conflict"
	ResultError     = "error"
)

func resultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrInvalidInput):
		return ResultInvalid
	case es.IsNotFound(err):
		return ResultNotFound
	case es.IsInvariant(err):
		return ResultInvariant
	case es.IsConflict(err):
		return ResultConflict
	default:
		return ResultError
	}
}
