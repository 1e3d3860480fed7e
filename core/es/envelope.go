package es

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Metadata carries contextual, non-domain information about an event
// (correlation id, acting user, ...).
type Metadata map[string]string

// Envelope wraps an event with metadata for persistence and routing.
// It is the unit of storage in the EventStore and contains all information
// needed to reconstruct and route events during replay or consumption.
type Envelope struct {
	// ID is the globally unique identifier of this event (UUID).
	ID string `json:"id"`
	// Seq is the global position assigned by the store.
	// Events of one commit may share a Seq, but never their Version.
	Seq uint64 `json:"seq"`
	// Version is the per-aggregate stream version (1, 2, 3, ...).
	// Used for optimistic concurrency control.
	Version Version `json:"version"`
	// AggregateType identifies the type of aggregate this event belongs to.
	AggregateType string `json:"aggregate"`
	// AggregateID identifies the specific aggregate instance.
	AggregateID string `json:"aggregate_id"`
	// Type is the event type name for deserialization routing.
	Type string `json:"type"`
	// EventVersion is the schema version of Data.
	EventVersion int `json:"event_version"`
	// OccurredAt is when the event was created.
	OccurredAt time.Time `json:"occurred_at"`
	// Metadata is free-form context attached at save time.
	Metadata Metadata `json:"metadata,omitempty"`
	// Data contains the JSON-encoded event payload.
	Data json.RawMessage `json:"data"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("envelope occurred at is zero")
	}
	if e.AggregateID == "" {
		return fmt.Errorf("envelope aggregate id is empty")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("envelope aggregate type is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope type is empty")
	}
	if e.Version == 0 {
		return fmt.Errorf("envelope version is zero")
	}
	return nil
}

// ValidateBatch checks that events form the next consecutive slice of the
// stream (aggType, aggID) after expected.
func ValidateBatch(aggType, aggID string, expected Version, events []Envelope) error {
	if len(events) == 0 {
		return ErrStoreNoEvents
	}
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return err
		}
		if e.AggregateType != aggType || e.AggregateID != aggID {
			return fmt.Errorf(
				"envelope %s belongs to %s/%s, not %s/%s",
				e.ID, e.AggregateType, e.AggregateID, aggType, aggID,
			)
		}
		if want := expected.Add(i + 1); e.Version != want {
			return fmt.Errorf("envelope %s has version %d, want %d", e.ID, e.Version, want)
		}
	}
	return nil
}

type Decoder interface{ Decode(e Envelope) (any, error) }

// RecordedEvent is a decoded event together with its envelope.
type RecordedEvent struct {
	Envelope
	Event any
}

// === metadata context ===

type metadataCtxKey struct{}

// ContextWithMetadata attaches md to ctx. Repositories copy it onto every
// envelope they save with that context.
func ContextWithMetadata(ctx context.Context, md Metadata) context.Context {
	merged := Metadata{}
	for k, v := range MetadataFromContext(ctx) {
		merged[k] = v
	}
	for k, v := range md {
		merged[k] = v
	}
	return context.WithValue(ctx, metadataCtxKey{}, merged)
}

func MetadataFromContext(ctx context.Context) Metadata {
	md, _ := ctx.Value(metadataCtxKey{}).(Metadata)
	return md
}
