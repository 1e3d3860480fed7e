package es

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Truonghai2/BaultPHP-sub001/ports/kv"
)

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)

type ProjectionStatus string

const (
	ProjectionIdle    ProjectionStatus = "idle"
	ProjectionRunning ProjectionStatus = "running"
	ProjectionError   ProjectionStatus = "error"
)

// Checkpoint is the persisted progress of one projection. LastSeq always
// points at the end of a commit.
type Checkpoint struct {
	Name        string           `json:"name"`
	LastSeq     uint64           `json:"last_seq"`
	LastEventID string           `json:"last_event_id,omitempty"`
	Status      ProjectionStatus `json:"status"`
	Error       string           `json:"error,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (c Checkpoint) logAttrs() slog.Attr {
	return slog.Group(
		"checkpoint",
		slog.String("name", c.Name),
		slog.Uint64("last_seq", c.LastSeq),
		slog.String("status", string(c.Status)),
	)
}

type CpStore interface {
	// Get returns ErrCheckpointNotFound for projections that never ran.
	Get(ctx context.Context, name string) (Checkpoint, error)
	Set(ctx context.Context, cp Checkpoint) error
}

// LoadCheckpoint returns the stored checkpoint of name, or a fresh idle one.
func LoadCheckpoint(ctx context.Context, s CpStore, name string) (Checkpoint, error) {
	cp, err := s.Get(ctx, name)
	if errors.Is(err, ErrCheckpointNotFound) {
		return Checkpoint{Name: name, Status: ProjectionIdle}, nil
	}
	return cp, err
}

// === in-memory ===

type InMemCpStore struct {
	mu  sync.RWMutex
	cps map[string]Checkpoint
}

func NewInMemCpStore() *InMemCpStore {
	return &InMemCpStore{cps: map[string]Checkpoint{}}
}

func (s *InMemCpStore) Get(_ context.Context, name string) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.cps[name]
	if !ok {
		return Checkpoint{}, ErrCheckpointNotFound
	}
	return cp, nil
}

func (s *InMemCpStore) Set(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cps[cp.Name] = cp
	return nil
}

var _ CpStore = (*InMemCpStore)(nil)

// === key/value ===

// KeyValueCpStore keeps checkpoints in a key/value store under cp.<name>.
type KeyValueCpStore struct {
	store kv.Store
}

func NewKeyValueCpStore(store kv.Store) *KeyValueCpStore {
	return &KeyValueCpStore{store: store}
}

func (s *KeyValueCpStore) Get(ctx context.Context, name string) (Checkpoint, error) {
	cp, err := kv.GetJSON[Checkpoint](ctx, s.store, kv.Key("cp", name))
	if errors.Is(err, kv.ErrNotFound) {
		return Checkpoint{}, ErrCheckpointNotFound
	}
	return cp, err
}

func (s *KeyValueCpStore) Set(ctx context.Context, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	_, err = s.store.Put(ctx, kv.Key("cp", cp.Name), data)
	return err
}

var _ CpStore = (*KeyValueCpStore)(nil)
