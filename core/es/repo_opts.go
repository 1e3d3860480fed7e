package es

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// IDGenerator is a function that generates unique IDs for events.
type IDGenerator func() string

// DefaultIDGenerator returns random UUIDs.
func DefaultIDGenerator() IDGenerator { return uuid.NewString }

type (
	repoOpts struct {
		log            *slog.Logger
		snapshotter    Snapshotter
		snapshotPolicy SnapshotPolicy
		idGenerator    IDGenerator
		clock          func() time.Time
		metrics        ESMetrics
	}

	repoSaveOptions struct {
		snapshot *bool
	}

	repoLoadOptions struct {
		snapshot bool
	}

	repoWithTransactionOpts struct {
		create      bool
		maxAttempts int
		loadOpts    []LoadOption
		saveOpts    []SaveOption
	}
)

type (
	RepositoryOption      interface{ applyToRepository(*repoOpts) }
	SaveOption            interface{ applyToSaveOptions(*repoSaveOptions) }
	LoadOption            interface{ applyToLoadOptions(*repoLoadOptions) }
	WithTransactionOption interface {
		applyToWithTransactionOptions(*repoWithTransactionOpts)
	}

	RepoIDGeneratorOption valueOption[IDGenerator]
	RepoCreateOption      valueOption[bool]
	RepoRetryOption       valueOption[int]
	SnapshotOption        valueOption[bool]
)

// WithIDGenerator sets a custom ID generator for event envelope IDs.
func WithIDGenerator(gen IDGenerator) RepoIDGeneratorOption {
	return RepoIDGeneratorOption{v: gen}
}

// WithCreate lets WithTransaction run against a not yet existing aggregate.
func WithCreate() RepoCreateOption { return RepoCreateOption{v: true} }

// WithRetry makes WithTransaction reload and re-run the command up to
// attempts times in total while saving fails with a concurrency conflict.
func WithRetry(attempts int) RepoRetryOption { return RepoRetryOption{v: attempts} }

// WithSnapshot enables or disables snapshot use. On load, false replays the
// full stream. On save, true forces a snapshot and false suppresses the
// policy.
func WithSnapshot(enabled bool) SnapshotOption { return SnapshotOption{v: enabled} }

// === repo ==

func (o SnapshotterOption) applyToRepository(options *repoOpts)     { options.snapshotter = o.v }
func (o SnapshotPolicyOption) applyToRepository(options *repoOpts)  { options.snapshotPolicy = o.v }
func (o RepoIDGeneratorOption) applyToRepository(options *repoOpts) { options.idGenerator = o.v }
func (o ClockOption) applyToRepository(options *repoOpts)           { options.clock = o.v }

func newRepoOpts(opts ...RepositoryOption) repoOpts {
	var options = repoOpts{
		log:            slog.Default(),
		snapshotPolicy: SnapshotEvery(DefaultSnapshotEvery),
		idGenerator:    DefaultIDGenerator(),
		clock:          time.Now,
		metrics:        NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	if options.snapshotPolicy == nil {
		options.snapshotPolicy = NeverSnapshot
	}
	return options
}

// === save ==

func (o SnapshotOption) applyToSaveOptions(options *repoSaveOptions) {
	v := o.v
	options.snapshot = &v
}

func newSaveOptions(opts ...SaveOption) repoSaveOptions {
	options := repoSaveOptions{}
	for _, opt := range opts {
		opt.applyToSaveOptions(&options)
	}
	return options
}

// === load ==

func (o SnapshotOption) applyToLoadOptions(options *repoLoadOptions) { options.snapshot = o.v }

func newLoadOptions(opts ...LoadOption) repoLoadOptions {
	options := repoLoadOptions{snapshot: true}
	for _, opt := range opts {
		opt.applyToLoadOptions(&options)
	}
	return options
}

// === withTransaction ==

func (o SnapshotOption) applyToWithTransactionOptions(options *repoWithTransactionOpts) {
	options.saveOpts = append(options.saveOpts, o)
	options.loadOpts = append(options.loadOpts, o)
}
func (o RepoCreateOption) applyToWithTransactionOptions(options *repoWithTransactionOpts) {
	options.create = o.v
}
func (o RepoRetryOption) applyToWithTransactionOptions(options *repoWithTransactionOpts) {
	options.maxAttempts = o.v
}

func newWithTransactionOptions(opts ...WithTransactionOption) repoWithTransactionOpts {
	options := repoWithTransactionOpts{maxAttempts: 1}
	for _, opt := range opts {
		opt.applyToWithTransactionOptions(&options)
	}
	if options.maxAttempts < 1 {
		options.maxAttempts = 1
	}
	return options
}
