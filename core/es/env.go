package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Env wires a store, snapshotter, checkpoint store, event registry,
// repository and projection runners from one set of options.
type Env struct {
	ctx          context.Context
	cancelCtx    context.CancelFunc
	id           string
	log          *slog.Logger
	shutdownOnce sync.Once

	store       EventStore
	snapshotter Snapshotter
	cpStore     CpStore
	registry    *EventRegistry
	repo        Repository
	repoOpts    []RepositoryOption
	runners     []*ProjectionRunner
}

func (e *Env) Repository() Repository             { return e.repo }
func (e *Env) Registry() *EventRegistry           { return e.registry }
func (e *Env) Store() EventStore                  { return e.store }
func (e *Env) Snapshotter() Snapshotter           { return e.snapshotter }
func (e *Env) CheckpointStore() CpStore           { return e.cpStore }
func (e *Env) Runners() []*ProjectionRunner       { return e.runners }
func (e *Env) RepositoryOpts() []RepositoryOption { return e.repoOpts }

func NewEnv(opts ...EnvOption) (*Env, error) {
	var (
		id      = gonanoid.Must(6)
		options = newEnvOptions(opts...)
		log     = options.log.With(slog.String("env", id))
	)

	e := &Env{
		id:          id,
		log:         log,
		store:       options.store,
		snapshotter: options.snapshotter,
		cpStore:     options.cpStore,
		registry:    NewRegistry(),
	}
	e.ctx, e.cancelCtx = context.WithCancel(options.ctx)

	for _, agg := range options.aggregates {
		agg.Register(e.registry)
		e.log.Debug("registered aggregate", slog.String("type", agg.GetAggType()))
	}
	RegisterEvents(e.registry, options.events...)

	e.repoOpts = []RepositoryOption{
		WithLog(log),
		WithSnapshotPolicy(options.snapshotPolicy),
		WithMetrics(options.metrics),
		WithClock(options.clock),
	}
	if options.snapshotter != nil {
		e.repoOpts = append(e.repoOpts, WithSnapshotter(options.snapshotter))
	}
	e.repo = NewRepository(e.store, e.registry, e.repoOpts...)

	seen := map[string]struct{}{}
	for _, p := range options.projections {
		if _, dup := seen[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate projection name %q", p.Name())
		}
		seen[p.Name()] = struct{}{}
		runnerOpts := append([]RunnerOption{WithLog(log), WithMetrics(options.metrics)}, options.runnerOpts...)
		e.runners = append(e.runners, NewProjectionRunner(e.store, e.registry, e.cpStore, p, runnerOpts...))
	}

	return e, nil
}

// NewTypedRepositoryFor returns a typed repository sharing the environment's
// store, registry and options.
func NewTypedRepositoryFor[T Aggregate](e *Env) TypedRepository[T] {
	return NewTypedRepositoryFrom[T](e.repo, e.repoOpts...)
}

func (e *Env) Runner(name string) (*ProjectionRunner, bool) {
	for _, r := range e.runners {
		if r.Name() == name {
			return r, true
		}
	}
	return nil, false
}

// CatchUp synchronously runs every projection until it reached the head of
// the store.
func (e *Env) CatchUp(ctx context.Context) error {
	var errs []error
	for _, r := range e.runners {
		if _, err := r.RunOnce(ctx); err != nil {
			errs = append(errs, fmt.Errorf("projection %s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Notify wakes all started runners.
func (e *Env) Notify() {
	for _, r := range e.runners {
		r.Notify()
	}
}

// Start runs every projection in the background until Shutdown.
func (e *Env) Start() error {
	for _, r := range e.runners {
		if err := r.Start(e.ctx); err != nil {
			return fmt.Errorf("start projection %s: %w", r.Name(), err)
		}
	}
	return nil
}

func (e *Env) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.log.Info("shutting down")
		e.cancelCtx()
		for _, r := range e.runners {
			r.Stop()
		}
		e.log.Info("env shutdown")
	})
}

// Append encodes events with the registry and appends them to the stream
// after expect. It bypasses aggregates and is meant for imports and tests.
func (e *Env) Append(
	ctx context.Context,
	expect Version,
	aggType string,
	aggID string,
	events ...any,
) (*StoreAppendResult, error) {
	envelopes := make([]Envelope, 0, len(events))
	for i, ev := range events {
		evType, evVersion, data, err := e.registry.Encode(ev)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, Envelope{
			ID:            DefaultIDGenerator()(),
			Type:          evType,
			EventVersion:  evVersion,
			AggregateID:   aggID,
			AggregateType: aggType,
			Data:          data,
			OccurredAt:    time.Now().UTC(),
			Metadata:      MetadataFromContext(ctx),
			Version:       expect.Add(i + 1),
		})
	}
	return e.store.Append(ctx, aggType, aggID, expect, envelopes)
}
