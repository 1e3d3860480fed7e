package es

import (
	"context"
	"log/slog"
	"time"
)

type (
	envOptions struct {
		ctx            context.Context
		log            *slog.Logger
		snapshotter    Snapshotter
		snapshotPolicy SnapshotPolicy
		store          EventStore
		cpStore        CpStore
		clock          func() time.Time
		events         []func() any
		aggregates     []Aggregate
		projections    []Projection
		runnerOpts     []RunnerOption
		metrics        ESMetrics
	}

	EnvOption interface {
		applyToEnv(*envOptions)
	}

	ContextOption       valueOption[context.Context]
	EnvRunnerOptsOption MultiOption[RunnerOption]
)

func newEnvOptions(opts ...EnvOption) envOptions {
	options := envOptions{
		ctx:            context.Background(),
		log:            slog.Default(),
		snapshotPolicy: SnapshotEvery(DefaultSnapshotEvery),
		clock:          time.Now,
		metrics:        NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToEnv(&options)
	}
	if options.store == nil {
		options.store = NewInMemoryStore()
	}
	if options.cpStore == nil {
		options.cpStore = NewInMemCpStore()
	}
	return options
}

// WithCtx sets the parent context of the environment's background work.
func WithCtx(ctx context.Context) ContextOption { return ContextOption{v: ctx} }

// WithRunnerOpts applies opts to every projection runner of the environment.
func WithRunnerOpts(opts ...RunnerOption) EnvRunnerOptsOption {
	return EnvRunnerOptsOption{opts: opts}
}

func (o ContextOption) applyToEnv(e *envOptions) { e.ctx = o.v }
func (o EnvRunnerOptsOption) applyToEnv(e *envOptions) {
	e.runnerOpts = append(e.runnerOpts, o.opts...)
}
