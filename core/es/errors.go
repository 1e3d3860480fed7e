package es

import (
	"errors"
	"fmt"
)

var (
	ErrAggregateNotFound   = errors.New("aggregate not found")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrStorage             = errors.New("storage failure")
	ErrUnknownEventType    = errors.New("unknown event type")
)

// ConflictError is returned by an EventStore when the expected version does
// not match the stored version. Nothing of the rejected batch was persisted.
type ConflictError struct {
	AggType  string
	AggID    string
	Expected Version
	Actual   Version
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"%s: expected version %d, got %d (agg_type=%s agg_id=%s)",
		ErrConcurrencyConflict,
		e.Expected,
		e.Actual,
		e.AggType,
		e.AggID,
	)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrencyConflict }

// InvariantError reports a command rejected by an aggregate because its
// current state forbids it. No event was recorded.
type InvariantError struct {
	AggType string
	AggID   string
	Op      string
	Reason  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s/%s %s: %s", ErrInvariantViolation, e.AggType, e.AggID, e.Op, e.Reason)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// NewInvariantError builds an InvariantError for agg.
func NewInvariantError(agg Aggregate, op, reason string) *InvariantError {
	return &InvariantError{
		AggType: agg.GetAggType(),
		AggID:   agg.GetID(),
		Op:      op,
		Reason:  reason,
	}
}

// StorageError marks err as a transport or transaction failure of op.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) || errors.Is(err, ErrConcurrencyConflict) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

func IsConflict(err error) bool  { return errors.Is(err, ErrConcurrencyConflict) }
func IsNotFound(err error) bool  { return errors.Is(err, ErrAggregateNotFound) }
func IsInvariant(err error) bool { return errors.Is(err, ErrInvariantViolation) }
