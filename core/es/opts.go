package es

import (
	"log/slog"
	"time"
)

type (
	valueOption[T any]   struct{ v T }
	StoreOption          valueOption[EventStore]
	SnapshotterOption    valueOption[Snapshotter]
	SnapshotPolicyOption valueOption[SnapshotPolicy]
	CpStoreOption        valueOption[CpStore]
	ClockOption          valueOption[func() time.Time]
	LogOption            valueOption[*slog.Logger]
	MemoryOption         struct{}
	EventRegisterOption  struct {
		ctors []func() any
	}
	ProjectionsOption struct {
		ps []Projection
	}
	AggregateOption struct {
		aggregates []Aggregate
	}
	MultiOption[T any] struct{ opts []T }
	EnvOpts            MultiOption[EnvOption]
)

func WithInMemory() MemoryOption                          { return MemoryOption{} }
func WithStore(s EventStore) StoreOption                  { return StoreOption{v: s} }
func WithSnapshotter(s Snapshotter) SnapshotterOption     { return SnapshotterOption{v: s} }
func WithCheckpointStore(cps CpStore) CpStoreOption       { return CpStoreOption{v: cps} }
func WithClock(now func() time.Time) ClockOption          { return ClockOption{v: now} }
func WithLog(l *slog.Logger) LogOption                    { return LogOption{v: l} }
func WithAggregates(a ...Aggregate) AggregateOption       { return AggregateOption{aggregates: a} }
func WithProjections(ps ...Projection) ProjectionsOption  { return ProjectionsOption{ps: ps} }
func WithEnvOpts(opts ...EnvOption) EnvOpts               { return EnvOpts{opts: opts} }
func WithEvents(ctors ...func() any) EventRegisterOption  { return EventRegisterOption{ctors: ctors} }
func WithEvent[T any]() EventRegisterOption               { return WithEvents(Event[T]()) }
func WithSnapshotPolicy(p SnapshotPolicy) SnapshotPolicyOption {
	return SnapshotPolicyOption{v: p}
}

func (o StoreOption) applyToEnv(e *envOptions)          { e.store = o.v }
func (o SnapshotterOption) applyToEnv(e *envOptions)    { e.snapshotter = o.v }
func (o SnapshotPolicyOption) applyToEnv(e *envOptions) { e.snapshotPolicy = o.v }
func (o CpStoreOption) applyToEnv(e *envOptions)        { e.cpStore = o.v }
func (o ClockOption) applyToEnv(e *envOptions)          { e.clock = o.v }
func (o LogOption) applyToEnv(e *envOptions)            { e.log = o.v }
func (o MemoryOption) applyToEnv(e *envOptions) {
	e.store = NewInMemoryStore()
	e.snapshotter = NewInMemorySnapshotter()
	e.cpStore = NewInMemCpStore()
}
func (o EventRegisterOption) applyToEnv(e *envOptions) {
	e.events = append(e.events, o.ctors...)
}
func (o ProjectionsOption) applyToEnv(e *envOptions) {
	e.projections = append(e.projections, o.ps...)
}
func (o AggregateOption) applyToEnv(e *envOptions) {
	e.aggregates = append(e.aggregates, o.aggregates...)
}
func (o EnvOpts) applyToEnv(e *envOptions) {
	for _, opt := range o.opts {
		opt.applyToEnv(e)
	}
}

func (o LogOption) applyToRepository(r *repoOpts)            { r.log = o.v }
func (o LogOption) applyToProjectionRunner(p *runnerOptions) { p.log = o.v }
