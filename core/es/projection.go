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

type (
	// Projection consumes persisted events to build read models. Handlers
	// must be idempotent: after a crash between handling and checkpointing,
	// the events of the last commit are delivered again.
	Projection interface {
		Name() string
		Handler
	}

	// Resetter is implemented by projections that can drop their read model
	// before a rebuild.
	Resetter interface {
		Reset(ctx context.Context) error
	}
)

const (
	DefaultPollInterval = 250 * time.Millisecond
	DefaultBatchSize    = 500
)

type (
	runnerOptions struct {
		log          *slog.Logger
		metrics      ESMetrics
		pollInterval time.Duration
		batchSize    int
		middlewares  []HandlerMiddleware
	}

	RunnerOption interface {
		applyToProjectionRunner(*runnerOptions)
	}

	PollIntervalOption valueOption[time.Duration]
	BatchSizeOption    valueOption[int]
	MiddlewareOption   valueOption[[]HandlerMiddleware]
)

func WithPollInterval(d time.Duration) PollIntervalOption { return PollIntervalOption{v: d} }
func WithBatchSize(n int) BatchSizeOption                 { return BatchSizeOption{v: n} }
func WithMiddlewares(mws ...HandlerMiddleware) MiddlewareOption {
	return MiddlewareOption{v: mws}
}

func (o PollIntervalOption) applyToProjectionRunner(r *runnerOptions) { r.pollInterval = o.v }
func (o BatchSizeOption) applyToProjectionRunner(r *runnerOptions)    { r.batchSize = o.v }
func (o MiddlewareOption) applyToProjectionRunner(r *runnerOptions) {
	r.middlewares = append(r.middlewares, o.v...)
}

// ProjectionRunner feeds one projection from the global event order and
// tracks its progress in a CpStore. The checkpoint is only advanced after
// the handler succeeded for every event of a commit.
type ProjectionRunner struct {
	id         string
	log        *slog.Logger
	store      EventStore
	decoder    Decoder
	cps        CpStore
	projection Projection
	handler    Handler
	metrics    ESMetrics
	interval   time.Duration
	batchSize  int

	runMu  sync.Mutex
	notify chan struct{}

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewProjectionRunner(
	store EventStore,
	decoder Decoder,
	cps CpStore,
	p Projection,
	opts ...RunnerOption,
) *ProjectionRunner {
	options := runnerOptions{
		log:          slog.Default(),
		metrics:      NopESMetrics(),
		pollInterval: DefaultPollInterval,
		batchSize:    DefaultBatchSize,
	}
	for _, opt := range opts {
		opt.applyToProjectionRunner(&options)
	}
	if options.batchSize <= 0 {
		options.batchSize = DefaultBatchSize
	}
	if options.pollInterval <= 0 {
		options.pollInterval = DefaultPollInterval
	}

	id := gonanoid.Must(6)
	return &ProjectionRunner{
		id: id,
		log: options.log.With(
			slog.String("projection", p.Name()),
			slog.String("runner", id),
		),
		store:      store,
		decoder:    decoder,
		cps:        cps,
		projection: p,
		handler:    applyMiddlewares(p, options.middlewares),
		metrics:    options.metrics,
		interval:   options.pollInterval,
		batchSize:  options.batchSize,
		notify:     make(chan struct{}, 1),
	}
}

func (r *ProjectionRunner) Name() string { return r.projection.Name() }

// Status returns the persisted checkpoint of the projection.
func (r *ProjectionRunner) Status(ctx context.Context) (Checkpoint, error) {
	return LoadCheckpoint(ctx, r.cps, r.projection.Name())
}

// RunOnce processes all events after the checkpoint and returns how many
// events were handled. Concurrent calls are serialized.
func (r *ProjectionRunner) RunOnce(ctx context.Context) (int, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.run(ctx, false)
}

// Rebuild resets the read model and the checkpoint and replays all events.
func (r *ProjectionRunner) Rebuild(ctx context.Context) (int, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if rs, ok := r.projection.(Resetter); ok {
		if err := rs.Reset(ctx); err != nil {
			return 0, fmt.Errorf("reset projection %s: %w", r.projection.Name(), err)
		}
	}
	cp := Checkpoint{Name: r.projection.Name(), Status: ProjectionIdle, UpdatedAt: time.Now().UTC()}
	if err := r.cps.Set(ctx, cp); err != nil {
		return 0, StorageError("checkpoint", err)
	}
	r.log.Info("rebuilding")
	return r.run(ctx, true)
}

func (r *ProjectionRunner) run(ctx context.Context, rebuild bool) (processed int, err error) {
	cp, err := LoadCheckpoint(ctx, r.cps, r.projection.Name())
	if err != nil {
		return 0, StorageError("checkpoint", err)
	}

	batch, err := r.store.ReadAll(ctx, cp.LastSeq, r.batchSize)
	if err != nil {
		return 0, StorageError("read all", err)
	}
	if len(batch) == 0 && cp.Status == ProjectionIdle {
		return 0, nil
	}

	cp.Status = ProjectionRunning
	cp.Error = ""
	if err = r.saveCheckpoint(ctx, cp); err != nil {
		return 0, err
	}

	for len(batch) > 0 {
		var n int
		n, cp, err = r.handleBatch(ctx, cp, batch, rebuild)
		processed += n
		if err != nil {
			cp.Status = ProjectionError
			cp.Error = err.Error()
			if ctx.Err() != nil {
				cp.Status, cp.Error = ProjectionIdle, ""
			}
			if cpErr := r.saveCheckpoint(context.WithoutCancel(ctx), cp); cpErr != nil {
				err = errors.Join(err, cpErr)
			}
			r.log.Error("projection failed", cp.logAttrs(), slog.Any("error", err))
			return processed, err
		}
		if err = r.saveCheckpoint(ctx, cp); err != nil {
			return processed, err
		}
		if batch, err = r.store.ReadAll(ctx, cp.LastSeq, r.batchSize); err != nil {
			return processed, StorageError("read all", err)
		}
	}

	cp.Status = ProjectionIdle
	if err = r.saveCheckpoint(ctx, cp); err != nil {
		return processed, err
	}
	if processed > 0 {
		r.log.Debug("caught up", cp.logAttrs(), slog.Int("processed", processed))
	}
	return processed, nil
}

// handleBatch dispatches batch and returns the checkpoint at the last
// completed commit.
func (r *ProjectionRunner) handleBatch(
	ctx context.Context,
	cp Checkpoint,
	batch []Envelope,
	rebuild bool,
) (int, Checkpoint, error) {
	name := r.projection.Name()
	processed := 0
	for i, env := range batch {
		if err := ctx.Err(); err != nil {
			return processed, cp, err
		}
		if err := r.dispatch(ctx, name, env, rebuild); err != nil {
			return processed, cp, fmt.Errorf("event %s (seq=%d type=%s): %w", env.ID, env.Seq, env.Type, err)
		}
		processed++

		if i == len(batch)-1 || !SameCommit(env, batch[i+1]) {
			cp.LastSeq = env.Seq
			cp.LastEventID = env.ID
		}
	}
	return processed, cp, nil
}

func (r *ProjectionRunner) dispatch(ctx context.Context, name string, env Envelope, rebuild bool) error {
	defer r.metrics.ProjectionEventDuration(name, env.Type).ObserveDuration()

	evt, err := r.decoder.Decode(env)
	if errors.Is(err, ErrUnknownEventType) {
		r.log.Debug("skipping unregistered event", slog.String("type", env.Type))
		return nil
	}
	if err != nil {
		r.metrics.ProjectionEventProcessed(name, env.Type, false)
		return err
	}

	msgCtx := MsgCtx{
		ctx:     ctx,
		ev:      env,
		evt:     evt,
		rebuild: rebuild,
		log: r.log.With(
			slog.Group(
				"event",
				slog.String("id", env.ID),
				slog.Uint64("seq", env.Seq),
				env.Version.SlogAttr(),
				slog.String("type", env.Type),
				slog.String("aggregate_id", env.AggregateID),
				slog.String("aggregate_type", env.AggregateType),
			),
		),
	}
	if err := r.handler.Handle(msgCtx); err != nil {
		r.metrics.ProjectionEventProcessed(name, env.Type, false)
		return err
	}
	r.metrics.ProjectionEventProcessed(name, env.Type, true)
	return nil
}

func (r *ProjectionRunner) saveCheckpoint(ctx context.Context, cp Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()
	if err := r.cps.Set(ctx, cp); err != nil {
		return StorageError("checkpoint", err)
	}
	r.metrics.ProjectionCheckpoint(cp.Name, cp.LastSeq)
	return nil
}

// Notify asks a started runner to poll now instead of waiting for the next
// tick.
func (r *ProjectionRunner) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Start polls the store in the background until Stop is called or ctx ends.
func (r *ProjectionRunner) Start(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()
	if r.cancel != nil {
		return errors.New("projection runner already started")
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
	r.log.Info("started", slog.Duration("poll_interval", r.interval))
	return nil
}

func (r *ProjectionRunner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn("run failed, retrying", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.notify:
		}
	}
}

// Stop halts a started runner and waits for the current run to finish.
func (r *ProjectionRunner) Stop() {
	r.lifecycleMu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.lifecycleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.log.Info("stopped")
}
