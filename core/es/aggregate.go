package es

import (
	"fmt"

	"github.com/Truonghai2/BaultPHP-sub001/core/es/assert"
)

// Applier is the interface for types that can apply events to update their state.
type Applier interface {
	Apply(event any) error
}

// Aggregate is the core interface for event-sourced domain objects.
// It defines the contract that all aggregate roots must implement to work
// with the Repository for loading and persisting state through events.
//
// An aggregate maintains:
//   - Identity: type and ID that uniquely identify the aggregate stream
//   - Version: the version of the last applied event, used for optimistic concurrency
//   - Sequence: the global store position of the last applied event
//   - Uncommitted events: events raised but not yet persisted
//
// The typical lifecycle is:
//  1. Create a new aggregate or load an existing one via Repository
//  2. Execute a command which checks invariants and calls RaiseAndApply
//  3. Apply() mutates internal state from each event
//  4. Save via Repository which persists uncommitted events and calls ClearUncommitted()
type Aggregate interface {
	// GetAggType returns the aggregate type name used for stream identification.
	GetAggType() string
	// GetID returns the unique identifier of this aggregate instance.
	GetID() string
	// SetID sets the aggregate ID. Typically called during creation.
	SetID(string)

	// GetVersion returns the version of the last applied event.
	GetVersion() Version
	setVersion(Version)

	// GetSeq returns the global store position of the last applied event.
	GetSeq() uint64
	setSeq(uint64)

	// Register registers event types with the provided Registrar.
	Register(r Registrar)
	// Raise records an event as uncommitted without applying it.
	Raise(event any)
	// Apply updates the aggregate state from an event. Apply never checks
	// invariants; it is used for replay as well.
	Apply(event any) error

	// Uncommitted returns a copy of events raised but not yet persisted.
	Uncommitted() []any
	// ClearUncommitted removes all uncommitted events after successful save.
	ClearUncommitted()
}

// BaseAggregate is an embeddable helper that tracks identity, version and
// uncommitted events.
type BaseAggregate struct {
	id          string
	version     Version
	seq         uint64
	uncommitted []any
}

func (b *BaseAggregate) GetID() string        { return b.id }
func (b *BaseAggregate) SetID(id string)      { b.id = id }
func (b *BaseAggregate) GetVersion() Version  { return b.version }
func (b *BaseAggregate) setVersion(v Version) { b.version = v }
func (b *BaseAggregate) GetSeq() uint64       { return b.seq }
func (b *BaseAggregate) setSeq(s uint64)      { b.seq = s }

// Raise records an event as uncommitted.
// (Typically you call Raise+Apply together via RaiseAndApply.)
func (b *BaseAggregate) Raise(event any)   { b.uncommitted = append(b.uncommitted, event) }
func (b *BaseAggregate) ClearUncommitted() { b.uncommitted = nil }
func (b *BaseAggregate) HasUncommitted() bool {
	return len(b.uncommitted) > 0
}
func (b *BaseAggregate) Uncommitted() []any {
	out := make([]any, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

// === Helpers ===

type raiseApplier interface {
	Raise(event any)
	Apply(event any) error
}

// RaiseAndApply validates every event first, then applies each and records
// it as uncommitted. If validation fails nothing is recorded; an event that
// fails to apply is not recorded either.
func RaiseAndApply(a raiseApplier, events ...any) (err error) {
	if len(events) == 0 {
		return
	}

	for _, e := range events {
		if ev, ok := e.(interface{ Validate() error }); ok {
			if err = ev.Validate(); err != nil {
				return fmt.Errorf("invalid event %T: %w", ev, err)
			}
		}
	}

	for _, e := range events {
		if err = a.Apply(e); err != nil {
			return
		}
		a.Raise(e)
	}
	return
}

// Guard checks conds in order and returns an *InvariantError naming the
// first one that does not hold.
func Guard(agg Aggregate, op string, conds ...assert.Cond) error {
	if c, failed := assert.Failing(conds...); failed {
		return NewInvariantError(agg, op, c.String())
	}
	return nil
}

// UnknownEvent is returned by Apply implementations for event variants
// they do not handle.
func UnknownEvent(agg Aggregate, event any) error {
	return fmt.Errorf("%w: %s cannot apply %T", ErrUnknownEventType, agg.GetAggType(), event)
}
