package es

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

type streamKey struct{ aggType, aggID string }

// InMemoryStore is a simple, correct (optimistic) store for tests/dev.
type InMemoryStore struct {
	mu      sync.RWMutex
	log     *slog.Logger
	seq     uint64
	streams map[streamKey][]Envelope
	all     []Envelope
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[streamKey][]Envelope{},
	}
}

func (s *InMemoryStore) Load(
	_ context.Context,
	aggType,
	aggID string,
	opts ...StoreLoadOption,
) ([]Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return FilterFromVersion(s.streams[streamKey{aggType, aggID}], NewStoreLoadOptions(opts...)), nil
}

func (s *InMemoryStore) Version(_ context.Context, aggType, aggID string) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versionLocked(streamKey{aggType, aggID}), nil
}

func (s *InMemoryStore) versionLocked(k streamKey) Version {
	stream := s.streams[k]
	if len(stream) == 0 {
		return 0
	}
	return stream[len(stream)-1].Version
}

func (s *InMemoryStore) Append(
	_ context.Context,
	aggType string,
	aggID string,
	expectVersion Version,
	events []Envelope,
) (*StoreAppendResult, error) {
	if err := ValidateBatch(aggType, aggID, expectVersion, events); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := streamKey{aggType, aggID}
	if cur := s.versionLocked(k); cur != expectVersion {
		return nil, &ConflictError{AggType: aggType, AggID: aggID, Expected: expectVersion, Actual: cur}
	}

	stored := make([]Envelope, len(events))
	for i, e := range events {
		s.seq++
		e.Seq = s.seq
		stored[i] = e
	}
	s.streams[k] = append(s.streams[k], stored...)
	s.all = append(s.all, stored...)

	last := stored[len(stored)-1]
	s.log.Debug(
		"append",
		slog.Uint64("last_seq", last.Seq),
		slog.Int("num_events", len(stored)),
	)

	return &StoreAppendResult{LastSeq: last.Seq, Version: last.Version}, nil
}

func (s *InMemoryStore) ReadAll(_ context.Context, afterSeq uint64, limit int) ([]Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// s.all is ordered by Seq and Seq starts at 1
	start := sort.Search(len(s.all), func(i int) bool { return s.all[i].Seq > afterSeq })
	out := make([]Envelope, len(s.all)-start)
	copy(out, s.all[start:])
	return LimitCommits(out, limit), nil
}

var _ EventStore = (*InMemoryStore)(nil)
