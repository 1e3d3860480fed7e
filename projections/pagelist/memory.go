package pagelist

import (
	"context"
	"slices"
	"strings"
	"sync"
)

type MemStore struct {
	mu   sync.RWMutex
	rows map[string]Row
}

func NewMemStore() *MemStore {
	return &MemStore{rows: map[string]Row{}}
}

func (s *MemStore) Get(_ context.Context, pageID string) (Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[pageID]
	if !ok {
		return Row{}, ErrNotFound
	}
	return row, nil
}

func (s *MemStore) Upsert(_ context.Context, row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rows[row.PageID]; ok && cur.Version >= row.Version {
		return nil
	}
	s.rows[row.PageID] = row
	return nil
}

func (s *MemStore) List(_ context.Context, f Filter) ([]Row, error) {
	s.mu.RLock()
	out := make([]Row, 0, len(s.rows))
	for _, row := range s.rows {
		if f.Status != "" && row.Status != f.Status {
			continue
		}
		if f.AuthorID != "" && row.AuthorID != f.AuthorID {
			continue
		}
		out = append(out, row)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Row) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.PageID, b.PageID)
	})
	if f.Offset > 0 {
		out = out[min(f.Offset, len(out)):]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = map[string]Row{}
	return nil
}

var _ Store = (*MemStore)(nil)
