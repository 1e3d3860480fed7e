package es

import (
	"context"
	"errors"
)

var (
	ErrStoreNoEvents = errors.New("no events to store")
)

type (
	startVersionOption valueOption[Version]

	// StoreLoadOptions are the resolved options of EventStore.Load.
	StoreLoadOptions struct {
		StartVersion Version
	}

	StoreLoadOption interface {
		ApplyToStoreLoadOptions(*StoreLoadOptions)
	}
)

// WithStartAtVersion makes Load return only events with version >= v.
func WithStartAtVersion(v Version) StoreLoadOption { return startVersionOption{v} }

func (o startVersionOption) ApplyToStoreLoadOptions(opts *StoreLoadOptions) {
	opts.StartVersion = o.v
}

func NewStoreLoadOptions(opts ...StoreLoadOption) StoreLoadOptions {
	var o StoreLoadOptions
	for _, opt := range opts {
		opt.ApplyToStoreLoadOptions(&o)
	}
	return o
}

type (
	StoreAppendResult struct {
		// LastSeq is the global position of the last appended event.
		LastSeq uint64
		// Version is the new stream version.
		Version Version
	}

	// EventStore is the append-only log of all aggregate streams.
	//
	// Append is atomic: either every envelope of the batch is persisted with
	// versions expected+1.. and the stream pointer advances, or nothing is
	// persisted. A stale expectedVersion yields a *ConflictError.
	//
	// Load returns the events of one stream in version order; an unknown
	// stream yields an empty slice.
	//
	// ReadAll returns events of all streams in global position order, starting
	// after afterSeq. It returns at most limit events but never splits the
	// events of a single commit.
	EventStore interface {
		Load(ctx context.Context, aggType string, aggID string, opts ...StoreLoadOption) ([]Envelope, error)
		Append(ctx context.Context, aggType string, aggID string, expectedVersion Version, events []Envelope) (*StoreAppendResult, error)
		ReadAll(ctx context.Context, afterSeq uint64, limit int) ([]Envelope, error)
		Version(ctx context.Context, aggType string, aggID string) (Version, error)
	}
)

// FilterFromVersion drops events below opts.StartVersion.
func FilterFromVersion(events []Envelope, opts StoreLoadOptions) []Envelope {
	out := make([]Envelope, 0, len(events))
	for _, e := range events {
		if e.Version < opts.StartVersion {
			continue
		}
		out = append(out, e)
	}
	return out
}

// SameCommit reports whether b was appended in the same commit as a, its
// predecessor in global order. Stores either share one Seq across a commit or
// assign consecutive Seqs to consecutive versions of one stream. Adjacent
// commits of one stream are indistinguishable and count as one.
func SameCommit(a, b Envelope) bool {
	if a.AggregateType != b.AggregateType || a.AggregateID != b.AggregateID {
		return false
	}
	if b.Version != a.Version+1 {
		return false
	}
	return b.Seq == a.Seq || b.Seq == a.Seq+1
}

// LimitCommits cuts events after limit entries, extending the cut to the end
// of the commit the limit falls into.
func LimitCommits(events []Envelope, limit int) []Envelope {
	if limit <= 0 || len(events) <= limit {
		return events
	}
	n := limit
	for n < len(events) && SameCommit(events[n-1], events[n]) {
		n++
	}
	return events[:n]
}
