// Package pages is the application facade over the page and block
// aggregates. Commands validate their input, run against the aggregate
// inside a retrying transaction and then feed the projections; queries read
// aggregate state or the page_list read model.
package pages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Truonghai2/BaultPHP-sub001/core/cache"
	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/core/sf"
	"github.com/Truonghai2/BaultPHP-sub001/domain/page"
	"github.com/Truonghai2/BaultPHP-sub001/projections/pagelist"
)

// ProjectionMode selects when projections see committed events.
type ProjectionMode string

const (
	// ProjectionSync catches every projection up before a command returns.
	ProjectionSync ProjectionMode = "sync"
	// ProjectionAsync only wakes the background runners.
	ProjectionAsync ProjectionMode = "async"
)

const (
	DefaultMaxAttempts    = 3
	DefaultStateCacheSize = 1024
)

// Metadata keys set on every recorded event.
const (
	MetaCorrelationID = "correlation_id"
	MetaCommand       = "command"
	MetaActor         = "actor"
)

type Config struct {
	Env *es.Env
	// List is the page_list store queried by ListPages.
	List    pagelist.Store
	Log     *slog.Logger
	Metrics Metrics
	Clock   func() time.Time
	NewID   func() string
	// MaxAttempts bounds the reload-and-retry loop on concurrency conflicts.
	MaxAttempts int
	Projection  ProjectionMode
	// StateCacheSize bounds the page views kept by GetState.
	StateCacheSize int
}

type Service struct {
	env         *es.Env
	pages       es.TypedRepository[*page.Page]
	blocks      es.TypedRepository[*page.Block]
	list        pagelist.Store
	log         *slog.Logger
	metrics     Metrics
	clock       func() time.Time
	newID       func() string
	maxAttempts int
	mode        ProjectionMode
	validate    *validator.Validate
	states      *sf.Group[PageView]
	views       *cache.LRU[PageView]
}

func New(cfg Config) (*Service, error) {
	if cfg.Env == nil {
		return nil, errors.New("env is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.StateCacheSize <= 0 {
		cfg.StateCacheSize = DefaultStateCacheSize
	}
	switch cfg.Projection {
	case "":
		cfg.Projection = ProjectionSync
	case ProjectionSync, ProjectionAsync:
	default:
		return nil, fmt.Errorf("unknown projection mode %q", cfg.Projection)
	}

	return &Service{
		env:         cfg.Env,
		pages:       es.NewTypedRepositoryFor[*page.Page](cfg.Env),
		blocks:      es.NewTypedRepositoryFor[*page.Block](cfg.Env),
		list:        cfg.List,
		log:         cfg.Log.With(slog.String("service", "pages")),
		metrics:     cfg.Metrics,
		clock:       cfg.Clock,
		newID:       cfg.NewID,
		maxAttempts: cfg.MaxAttempts,
		mode:        cfg.Projection,
		validate:    newValidator(),
		states:      sf.New[PageView](),
		views:       cache.NewLRU[PageView](cache.LRUOpts{Size: cfg.StateCacheSize}),
	}, nil
}

// WithActor records actor as the author of the events of commands run with
// the returned context.
func WithActor(ctx context.Context, actor string) context.Context {
	return es.ContextWithMetadata(ctx, es.Metadata{MetaActor: actor})
}

func (s *Service) now() time.Time { return s.clock().UTC() }

// exec validates in, runs fn with command metadata on ctx and lets the
// projections catch up.
func (s *Service) exec(ctx context.Context, command string, in any, fn func(ctx context.Context) error) (err error) {
	defer s.metrics.CommandDuration(command).ObserveDuration()
	defer func() { s.metrics.CommandCompleted(command, resultOf(err)) }()

	if err = s.validate.StructCtx(ctx, in); err != nil {
		return inputError(err)
	}

	md := es.Metadata{MetaCommand: command}
	if es.MetadataFromContext(ctx)[MetaCorrelationID] == "" {
		md[MetaCorrelationID] = uuid.NewString()
	}
	ctx = es.ContextWithMetadata(ctx, md)

	if err = fn(ctx); err != nil {
		s.log.Debug("command failed", slog.String("command", command), slog.Any("error", err))
		return err
	}
	s.afterCommit(ctx)
	return nil
}

// afterCommit never fails the command: the events are stored, a lagging
// projection records the error in its checkpoint and catches up later.
func (s *Service) afterCommit(ctx context.Context) {
	if s.mode == ProjectionAsync {
		s.env.Notify()
		return
	}
	if err := s.env.CatchUp(ctx); err != nil {
		s.log.Warn("projection catch up failed", slog.Any("error", err))
	}
}

func (s *Service) txOpts(create bool) []es.WithTransactionOption {
	opts := []es.WithTransactionOption{es.WithRetry(s.maxAttempts)}
	if create {
		opts = append(opts, es.WithCreate())
	}
	return opts
}

func (s *Service) onPage(ctx context.Context, id string, fn func(p *page.Page) error) error {
	_, err := s.pages.WithTransaction(ctx, id, fn, s.txOpts(false)...)
	s.states.Forget(id)
	s.views.Delete(id)
	return err
}

func (s *Service) onBlock(ctx context.Context, id string, fn func(b *page.Block) error) error {
	_, err := s.blocks.WithTransaction(ctx, id, fn, s.txOpts(false)...)
	return err
}
