// Package perkey serializes work per key while letting work for different
// keys run concurrently.
//
// Repositories use it so that in-process commands against one aggregate
// never race each other for the same expected version.
package perkey

import (
	"context"
	"errors"
	"sync"
)

// ErrSchedulerClosed is returned when Do is called on a closed scheduler.
var ErrSchedulerClosed = errors.New("scheduler is closed")

type slot struct {
	sem  chan struct{}
	refs int
}

// Scheduler runs functions such that for any given key at most one runs at
// a time. Idle keys hold no resources.
type Scheduler[K comparable] struct {
	mu     sync.Mutex
	slots  map[K]*slot
	closed bool
}

func New[K comparable]() *Scheduler[K] {
	return &Scheduler[K]{slots: make(map[K]*slot)}
}

// Do runs fn once no other fn for key is running and returns its error.
// If ctx ends while waiting, fn is not run and the context error is returned.
func (s *Scheduler[K]) Do(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sl, err := s.acquireRef(key)
	if err != nil {
		return err
	}
	defer s.releaseRef(key, sl)

	select {
	case sl.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sl.sem }()

	return fn()
}

// Len returns the number of keys with running or waiting work.
func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Close makes further calls to Do fail. Running work is not interrupted.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Scheduler[K]) acquireRef(key K) (*slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSchedulerClosed
	}
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{sem: make(chan struct{}, 1)}
		s.slots[key] = sl
	}
	sl.refs++
	return sl, nil
}

func (s *Scheduler[K]) releaseRef(key K, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(s.slots, key)
	}
}
