// Package app wires a pages.Service and its event sourcing environment from
// configuration: the store driver, snapshots, projections and metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	prom "github.com/Truonghai2/BaultPHP-sub001/adapters/prometheus"
	"github.com/Truonghai2/BaultPHP-sub001/app/pages"
	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/domain/page"
	"github.com/Truonghai2/BaultPHP-sub001/internal/config"
	"github.com/Truonghai2/BaultPHP-sub001/projections/pagelist"
)

type Config struct {
	Context  context.Context
	Log      *slog.Logger
	Settings config.Config
	// Registerer receives the Prometheus collectors. Metrics are off when nil.
	Registerer prometheus.Registerer
	Clock      func() time.Time
}

type App struct {
	ctx       context.Context
	cancelCtx context.CancelFunc
	log       *slog.Logger
	settings  config.Config
	backend   *backend
	env       *es.Env
	service   *pages.Service

	stopOnce sync.Once
	stopErr  error
}

func New(cfg Config) (a *App, err error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	settings := cfg.Settings

	a = &App{
		log:      cfg.Log.With(slog.String("store", settings.Store.Driver)),
		settings: settings,
	}
	a.ctx, a.cancelCtx = context.WithCancel(cfg.Context)
	defer func() {
		if err != nil {
			a.cancelCtx()
		}
	}()

	a.backend, err = openBackend(a.ctx, settings.Store, a.log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var (
		esMetrics    = es.NopESMetrics()
		pagesMetrics = pages.NopMetrics()
	)
	if cfg.Registerer != nil {
		all := prom.NewAllMetrics(cfg.Registerer)
		esMetrics, pagesMetrics = all.ES, all.Pages
	}

	envOpts := []es.EnvOption{
		es.WithCtx(a.ctx),
		es.WithLog(a.log),
		es.WithClock(cfg.Clock),
		es.WithStore(a.backend.store),
		es.WithCheckpointStore(a.backend.cpStore),
		es.WithAggregates(page.NewPage(""), page.NewBlock("")),
		es.WithProjections(pagelist.New(a.backend.list)),
		es.WithMetrics(esMetrics),
		es.WithRunnerOpts(
			es.WithPollInterval(settings.Projection.PollInterval),
			es.WithBatchSize(settings.Projection.BatchSize),
		),
	}
	if settings.Snapshot.Enabled {
		envOpts = append(envOpts,
			es.WithSnapshotter(a.backend.snapshotter),
			es.WithSnapshotPolicy(es.SnapshotEvery(settings.Snapshot.Every)),
		)
	} else {
		envOpts = append(envOpts, es.WithSnapshotPolicy(es.NeverSnapshot))
	}

	a.env, err = es.NewEnv(envOpts...)
	if err != nil {
		return nil, errors.Join(err, a.backend.close())
	}

	a.service, err = pages.New(pages.Config{
		Env:            a.env,
		List:           a.backend.list,
		Log:            a.log,
		Metrics:        pagesMetrics,
		Clock:          cfg.Clock,
		MaxAttempts:    settings.Retry.MaxAttempts,
		Projection:     pages.ProjectionMode(settings.Projection.Mode),
		StateCacheSize: settings.Cache.PageStates,
	})
	if err != nil {
		return nil, errors.Join(err, a.backend.close())
	}

	a.log.Debug("created app",
		slog.String("projection_mode", settings.Projection.Mode),
		slog.Bool("snapshots", settings.Snapshot.Enabled),
	)
	return a, nil
}

func (a *App) Service() *pages.Service { return a.service }
func (a *App) Env() *es.Env            { return a.env }

// Run brings the read models up to date and, in async projection mode,
// starts the background runners.
func (a *App) Run() error {
	for _, r := range a.env.Runners() {
		var err error
		if a.backend.volatileList {
			_, err = r.Rebuild(a.ctx)
		} else {
			_, err = r.RunOnce(a.ctx)
		}
		if err != nil {
			return fmt.Errorf("projection %s: %w", r.Name(), err)
		}
	}
	if pages.ProjectionMode(a.settings.Projection.Mode) == pages.ProjectionAsync {
		if err := a.env.Start(); err != nil {
			return err
		}
	}
	a.log.Info("app started")
	return nil
}

// Stop halts the projections and closes the store. Later calls return the
// result of the first.
func (a *App) Stop() error {
	a.stopOnce.Do(func() {
		a.env.Shutdown()
		a.cancelCtx()
		a.stopErr = a.backend.close()
		a.log.Info("app stopped")
	})
	return a.stopErr
}

func Run(cfg Config) (*App, error) {
	a, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := a.Run(); err != nil {
		return nil, errors.Join(err, a.Stop())
	}
	return a, nil
}
