package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/Truonghai2/BaultPHP-sub001/core/perkey"
)

type (
	// Repository rehydrates aggregates and persists new events with
	// optimistic concurrency.
	Repository interface {
		Load(ctx context.Context, agg Aggregate, opts ...LoadOption) error
		Save(ctx context.Context, agg Aggregate, opts ...SaveOption) error
		CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error)
		// Events returns the decoded history of a stream.
		Events(ctx context.Context, aggType, aggID string) ([]RecordedEvent, error)
		Registry() *EventRegistry
	}
)

type repository struct {
	log            *slog.Logger
	store          EventStore
	registry       *EventRegistry
	snapshotter    Snapshotter
	snapshotPolicy SnapshotPolicy
	idGenerator    IDGenerator
	clock          func() time.Time
	metrics        ESMetrics
}

func NewRepository(
	store EventStore,
	registry *EventRegistry,
	opts ...RepositoryOption,
) Repository {
	options := newRepoOpts(opts...)
	return &repository{
		log:            options.log.With(slog.String("repo", fmt.Sprintf("%T", store))),
		store:          store,
		registry:       registry,
		snapshotter:    options.snapshotter,
		snapshotPolicy: options.snapshotPolicy,
		idGenerator:    options.idGenerator,
		clock:          options.clock,
		metrics:        options.metrics,
	}
}

func (r *repository) Registry() *EventRegistry { return r.registry }

func aggLogAttrs(agg Aggregate) slog.Attr {
	return slog.Group(
		"agg",
		slog.String("type", agg.GetAggType()),
		slog.String("id", agg.GetID()),
		slog.Uint64("seq", agg.GetSeq()),
		agg.GetVersion().SlogAttr(),
	)
}

func checkIdentity(agg Aggregate) error {
	if agg.GetAggType() == "" {
		return errors.New("aggregate type is empty")
	}
	if agg.GetID() == "" {
		return errors.New("aggregate id is empty")
	}
	return nil
}

// Load rehydrates agg from the latest usable snapshot and the events after
// it. It returns ErrAggregateNotFound when the stream is empty.
func (r *repository) Load(ctx context.Context, agg Aggregate, opts ...LoadOption) (err error) {
	if err = checkIdentity(agg); err != nil {
		return err
	}
	if len(agg.Uncommitted()) != 0 {
		return errors.New("aggregate has uncommitted events (dirty=true)")
	}
	aggType, aggID := agg.GetAggType(), agg.GetID()
	loadOptions := newLoadOptions(opts...)

	defer r.metrics.RepoLoadDuration(aggType).ObserveDuration()

	if loadOptions.snapshot && r.snapshotter != nil {
		if _, ok := agg.(Snapshottable); ok {
			if err = r.applySnapshot(ctx, agg); err != nil {
				return err
			}
		}
	}

	minVersion := agg.GetVersion().Next()
	t := r.metrics.StoreLoadDuration(aggType)
	loaded, err := r.store.Load(ctx, aggType, aggID, WithStartAtVersion(minVersion))
	t.ObserveDuration()
	if err != nil {
		return StorageError("load", err)
	}

	for _, e := range loaded {
		if e.AggregateType != aggType || e.AggregateID != aggID {
			return fmt.Errorf("stream %s/%s: event %s belongs to %s/%s", aggType, aggID, e.ID, e.AggregateType, e.AggregateID)
		}
		expectVersion := agg.GetVersion().Next()
		if e.Version != expectVersion {
			return fmt.Errorf("stream %s/%s: expect version %d, got %d", aggType, aggID, expectVersion, e.Version)
		}

		evt, err := r.registry.Decode(e)
		if err != nil {
			return fmt.Errorf("decode %s v%d of %s/%s: %w", e.Type, e.Version, aggType, aggID, err)
		}
		if err := agg.Apply(evt); err != nil {
			return fmt.Errorf("apply %s v%d of %s/%s: %w", e.Type, e.Version, aggType, aggID, err)
		}

		agg.setVersion(e.Version)
		agg.setSeq(e.Seq)
	}

	if agg.GetVersion() == 0 {
		return ErrAggregateNotFound
	}

	r.log.Debug("loaded", aggLogAttrs(agg), slog.Int("replayed", len(loaded)))
	return nil
}

// applySnapshot restores agg from its snapshot. Missing, stale or
// incompatible snapshots are skipped; the caller then replays from scratch.
func (r *repository) applySnapshot(ctx context.Context, agg Aggregate) error {
	aggType := agg.GetAggType()
	streamVersion, err := r.store.Version(ctx, aggType, agg.GetID())
	if err != nil {
		return StorageError("version", err)
	}
	if streamVersion == 0 {
		return nil
	}

	t := r.metrics.SnapshotLoadDuration(aggType)
	snap, err := r.snapshotter.LoadSnapshot(ctx, aggType, agg.GetID(), streamVersion)
	t.ObserveDuration()
	if errors.Is(err, ErrSnapshotNotFound) {
		return nil
	}
	if err != nil {
		r.log.Warn("snapshot load failed", aggLogAttrs(agg), slog.Any("error", err))
		r.metrics.SnapshotSkipped(aggType, "load_error")
		return nil
	}

	if err := RestoreSnapshot(agg, snap, streamVersion); err != nil {
		r.log.Warn("snapshot ignored", snap.logAttrs(), slog.Any("error", err))
		r.metrics.SnapshotSkipped(aggType, "incompatible")
		return nil
	}
	r.log.Debug("snapshot applied", aggLogAttrs(agg))
	return nil
}

func (r *repository) Save(ctx context.Context, agg Aggregate, opts ...SaveOption) error {
	uncommitted := agg.Uncommitted()
	if len(uncommitted) == 0 {
		return nil
	}
	if err := checkIdentity(agg); err != nil {
		return err
	}
	aggType, aggID := agg.GetAggType(), agg.GetID()
	saveOptions := newSaveOptions(opts...)

	defer r.metrics.RepoSaveDuration(aggType).ObserveDuration()

	var (
		expectVersion = agg.GetVersion()
		md            = MetadataFromContext(ctx)
		now           = r.clock().UTC()
		envs          = make([]Envelope, 0, len(uncommitted))
	)
	for i, ev := range uncommitted {
		evType, evVersion, data, err := r.registry.Encode(ev)
		if err != nil {
			return err
		}
		env := Envelope{
			ID:            r.idGenerator(),
			Type:          evType,
			EventVersion:  evVersion,
			AggregateID:   aggID,
			AggregateType: aggType,
			Version:       expectVersion.Add(i + 1),
			OccurredAt:    now,
			Metadata:      md,
			Data:          data,
		}
		if err = env.Validate(); err != nil {
			return err
		}
		envs = append(envs, env)
	}

	t := r.metrics.StoreAppendDuration(aggType)
	res, err := r.store.Append(ctx, aggType, aggID, expectVersion, envs)
	t.ObserveDuration()
	if err != nil {
		if IsConflict(err) {
			r.metrics.ConcurrencyConflict(aggType)
		}
		return fmt.Errorf("save agg_type=%s agg_id=%s: %w", aggType, aggID, err)
	}
	if res == nil {
		return errors.New("append returned nil result")
	}
	r.metrics.EventsAppended(aggType, len(envs))

	agg.setVersion(expectVersion.Add(len(envs)))
	agg.setSeq(res.LastSeq)
	agg.ClearUncommitted()

	r.log.Debug("saved", aggLogAttrs(agg), slog.Int("num_events", len(envs)))

	takeSnapshot := r.snapshotPolicy(expectVersion, agg.GetVersion())
	if saveOptions.snapshot != nil {
		takeSnapshot = *saveOptions.snapshot
	}
	if takeSnapshot && r.snapshotter != nil {
		if _, ok := agg.(Snapshottable); ok {
			if _, err := r.CreateSnapshot(ctx, agg); err != nil {
				r.metrics.SnapshotFailed(aggType)
				r.log.Warn("snapshot failed", aggLogAttrs(agg), slog.Any("error", err))
			}
		}
	}

	return nil
}

func (r *repository) CreateSnapshot(ctx context.Context, agg Aggregate) (*Snapshot, error) {
	if r.snapshotter == nil {
		return nil, errors.New("no snapshotter configured")
	}
	ss, err := CreateSnapshot(agg)
	if err != nil {
		return nil, err
	}
	defer r.metrics.SnapshotSaveDuration(agg.GetAggType()).ObserveDuration()
	if err = r.snapshotter.SaveSnapshot(ctx, ss); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	r.log.Debug("snapshot saved", ss.logAttrs())
	return ss, nil
}

func (r *repository) Events(ctx context.Context, aggType, aggID string) ([]RecordedEvent, error) {
	envs, err := r.store.Load(ctx, aggType, aggID)
	if err != nil {
		return nil, StorageError("load", err)
	}
	if len(envs) == 0 {
		return nil, ErrAggregateNotFound
	}
	out := make([]RecordedEvent, 0, len(envs))
	for _, e := range envs {
		ev, err := r.registry.Decode(e)
		if err != nil {
			return nil, err
		}
		out = append(out, RecordedEvent{Envelope: e, Event: ev})
	}
	return out, nil
}

var _ Repository = &repository{}

// === TypedRepository ===

type (
	TypedRepository[T Aggregate] interface {
		GetAggType() string
		New() T
		NewWithID(id string) T
		Load(ctx context.Context, a T, opts ...LoadOption) error
		GetByID(ctx context.Context, aggID string, opts ...LoadOption) (T, error)
		Save(ctx context.Context, agg T, opts ...SaveOption) error
		// WithTransaction loads the aggregate, runs fn and saves the result.
		// Calls for the same id are serialized in-process. With WithRetry a
		// conflicting save reloads and re-runs fn.
		WithTransaction(ctx context.Context, aggID string, fn func(T) error, opts ...WithTransactionOption) (T, error)
		History(ctx context.Context, aggID string) ([]RecordedEvent, error)
	}
)

type typedRepo[T Aggregate] struct {
	r       Repository
	log     *slog.Logger
	aggType string
	serial  *perkey.Scheduler[string]
	metrics ESMetrics
}

func (t *typedRepo[T]) New() T { return t.NewWithID("") }

func (t *typedRepo[T]) NewWithID(id string) T {
	var a T
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() == reflect.Pointer {
		a = reflect.New(rt.Elem()).Interface().(T)
	}
	a.SetID(id)
	return a
}

func (t *typedRepo[T]) Load(ctx context.Context, a T, opts ...LoadOption) error {
	return t.r.Load(ctx, a, opts...)
}

func (t *typedRepo[T]) GetByID(ctx context.Context, aggID string, opts ...LoadOption) (a T, err error) {
	if aggID == "" {
		return a, errors.New("aggregate id is empty")
	}
	a = t.NewWithID(aggID)
	if err = t.r.Load(ctx, a, opts...); err != nil {
		return a, err
	}
	return a, nil
}

func (t *typedRepo[T]) Save(ctx context.Context, agg T, opts ...SaveOption) error {
	return t.r.Save(ctx, agg, opts...)
}

func (t *typedRepo[T]) History(ctx context.Context, aggID string) ([]RecordedEvent, error) {
	return t.r.Events(ctx, t.aggType, aggID)
}

func (t *typedRepo[T]) WithTransaction(
	ctx context.Context,
	aggID string,
	fn func(T) error,
	opts ...WithTransactionOption,
) (a T, err error) {
	if aggID == "" {
		return a, errors.New("aggregate id is empty")
	}
	options := newWithTransactionOptions(opts...)

	err = t.serial.Do(ctx, aggID, func() error {
		for attempt := 1; ; attempt++ {
			a = t.NewWithID(aggID)
			loadErr := t.r.Load(ctx, a, options.loadOpts...)
			if loadErr != nil && !(options.create && errors.Is(loadErr, ErrAggregateNotFound)) {
				return loadErr
			}
			if err := fn(a); err != nil {
				return err
			}
			saveErr := t.r.Save(ctx, a, options.saveOpts...)
			if saveErr == nil {
				return nil
			}
			if !IsConflict(saveErr) || attempt >= options.maxAttempts {
				return saveErr
			}
			t.metrics.CommandRetry(t.aggType)
			t.log.Debug(
				"retrying after conflict",
				slog.String("id", aggID),
				slog.Int("attempt", attempt),
			)
		}
	})
	return a, err
}

func (t *typedRepo[T]) GetAggType() string { return t.aggType }

// NewTypedRepository builds a Repository for T and registers the events of T
// with reg.
func NewTypedRepository[T Aggregate](s EventStore, reg *EventRegistry, opts ...RepositoryOption) TypedRepository[T] {
	return NewTypedRepositoryFrom[T](NewRepository(s, reg, opts...), opts...)
}

func NewTypedRepositoryFrom[T Aggregate](r Repository, opts ...RepositoryOption) TypedRepository[T] {
	options := newRepoOpts(opts...)
	t := &typedRepo[T]{
		r:       r,
		serial:  perkey.New[string](),
		metrics: options.metrics,
	}
	sample := t.New()
	sample.Register(r.Registry())
	t.aggType = sample.GetAggType()
	t.log = options.log.With(slog.String("repo", t.aggType))
	return t
}
