package estests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/core/es/estests/domain"
)

// counterTotals is a read model keeping the value of every counter, guarded
// by the version of the last applied event.
type counterTotals struct {
	mu       sync.Mutex
	values   map[string]int
	versions map[string]es.Version
	handled  int
	resets   int
	failOn   func(msgCtx es.MsgCtx) error
}

func newCounterTotals() *counterTotals {
	return &counterTotals{values: map[string]int{}, versions: map[string]es.Version{}}
}

func (p *counterTotals) Name() string { return "counter_totals" }

func (p *counterTotals) Handle(msgCtx es.MsgCtx) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn != nil {
		if err := p.failOn(msgCtx); err != nil {
			return err
		}
	}
	p.handled++
	id := msgCtx.AggregateID()
	if msgCtx.Version() <= p.versions[id] {
		return nil
	}
	switch e := msgCtx.Event().(type) {
	case *domain.Created:
		p.values[id] = 0
	case *domain.Incremented:
		p.values[id] += e.By
	case *domain.ResetDone:
		p.values[id] = 0
	}
	p.versions[id] = msgCtx.Version()
	return nil
}

func (p *counterTotals) Reset(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = map[string]int{}
	p.versions = map[string]es.Version{}
	p.resets++
	return nil
}

func (p *counterTotals) value(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values[id]
}

func TestProjection_RunOnce(t *testing.T) {
	proj := newCounterTotals()
	te, repo := newCounterRepo(t, es.WithProjections(proj))
	runner, ok := te.Runner(proj.Name())
	require.True(t, ok)

	a := createCounter(t, repo, "a")
	require.NoError(t, a.IncBy(2))
	require.NoError(t, a.IncBy(3))
	require.NoError(t, repo.Save(t.Context(), a))
	b := createCounter(t, repo, "b")
	require.NoError(t, b.Inc())
	require.NoError(t, repo.Save(t.Context(), b))

	n, err := runner.RunOnce(t.Context())
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, 5, proj.value("a"))
	require.Equal(t, 1, proj.value("b"))

	cp, err := runner.Status(t.Context())
	require.NoError(t, err)
	require.Equal(t, es.ProjectionIdle, cp.Status)
	require.Equal(t, b.GetSeq(), cp.LastSeq)
	require.NotEmpty(t, cp.LastEventID)

	n, err = runner.RunOnce(t.Context())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestProjection_SmallBatchesKeepCommitsWhole(t *testing.T) {
	proj := newCounterTotals()
	te, repo := newCounterRepo(t, es.WithProjections(proj), es.WithRunnerOpts(es.WithBatchSize(1)))

	a := createCounter(t, repo, "a")
	for i := 0; i < 4; i++ {
		require.NoError(t, a.Inc())
	}
	require.NoError(t, repo.Save(t.Context(), a))

	te.Assert().CaughtUp(t.Context())
	require.Equal(t, 4, proj.value("a"))
}

func TestProjection_ErrorStopsAtCommitBoundary(t *testing.T) {
	proj := newCounterTotals()
	te, repo := newCounterRepo(t, es.WithProjections(proj))
	runner, _ := te.Runner(proj.Name())

	a := createCounter(t, repo, "a")
	b := createCounter(t, repo, "b")
	require.NoError(t, a.Inc())
	require.NoError(t, a.Inc())
	require.NoError(t, a.Inc())
	require.NoError(t, repo.Save(t.Context(), a))

	boom := errors.New("boom")
	proj.failOn = func(msgCtx es.MsgCtx) error {
		if msgCtx.Version() == 3 {
			return boom
		}
		return nil
	}

	_, err := runner.RunOnce(t.Context())
	require.ErrorIs(t, err, boom)

	cp, err := runner.Status(t.Context())
	require.NoError(t, err)
	require.Equal(t, es.ProjectionError, cp.Status)
	require.Contains(t, cp.Error, "boom")
	require.Equal(t, b.GetSeq(), cp.LastSeq)

	// the failed commit is redelivered as a whole and the guard keeps it idempotent
	proj.failOn = nil
	_, err = runner.RunOnce(t.Context())
	require.NoError(t, err)
	require.Equal(t, 3, proj.value("a"))

	cp, err = runner.Status(t.Context())
	require.NoError(t, err)
	require.Equal(t, es.ProjectionIdle, cp.Status)
	require.Empty(t, cp.Error)
	require.Equal(t, a.GetSeq(), cp.LastSeq)
}

func TestProjection_IdempotentReplay(t *testing.T) {
	proj := newCounterTotals()
	te, repo := newCounterRepo(t, es.WithProjections(proj))
	runner, _ := te.Runner(proj.Name())

	a := createCounter(t, repo, "a")
	require.NoError(t, a.IncBy(5))
	require.NoError(t, repo.Save(t.Context(), a))
	te.Assert().CaughtUp(t.Context())

	// forget the checkpoint but keep the read model
	require.NoError(t, te.CheckpointStore().Set(t.Context(), es.Checkpoint{Name: proj.Name(), Status: es.ProjectionIdle}))
	n, err := runner.RunOnce(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 5, proj.value("a"))
}

func TestProjection_Rebuild(t *testing.T) {
	proj := newCounterTotals()
	te, repo := newCounterRepo(t, es.WithProjections(proj))
	runner, _ := te.Runner(proj.Name())

	a := createCounter(t, repo, "a")
	require.NoError(t, a.IncBy(5))
	require.NoError(t, repo.Save(t.Context(), a))
	te.Assert().CaughtUp(t.Context())

	proj.mu.Lock()
	proj.values["a"] = 1000
	proj.mu.Unlock()

	var rebuilding bool
	proj.failOn = func(msgCtx es.MsgCtx) error { rebuilding = msgCtx.Rebuilding(); return nil }

	n, err := runner.Rebuild(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 1, proj.resets)
	require.True(t, rebuilding)
	require.Equal(t, 5, proj.value("a"))
}

func TestProjection_SkipsUnregisteredEvents(t *testing.T) {
	proj := newCounterTotals()
	te, repo := newCounterRepo(t, es.WithProjections(proj))

	_, err := te.Store().Append(t.Context(), "alien", "x", 0, NewEnvelopes("alien", "x", 0, 2))
	require.NoError(t, err)
	a := createCounter(t, repo, "a")
	require.NoError(t, a.Inc())
	require.NoError(t, repo.Save(t.Context(), a))

	te.Assert().CaughtUp(t.Context())
	require.Equal(t, 1, proj.value("a"))
	require.Equal(t, 2, proj.handled)
}

func TestProjection_StartStop(t *testing.T) {
	proj := newCounterTotals()
	te, repo := newCounterRepo(t,
		es.WithProjections(proj),
		es.WithRunnerOpts(es.WithPollInterval(time.Hour)),
	)
	require.NoError(t, te.Start())

	a := createCounter(t, repo, "a")
	require.NoError(t, a.IncBy(9))
	require.NoError(t, repo.Save(t.Context(), a))
	te.Notify()

	require.Eventually(t, func() bool { return proj.value("a") == 9 }, 2*time.Second, 10*time.Millisecond)

	runner, _ := te.Runner(proj.Name())
	require.Error(t, runner.Start(t.Context()))
	runner.Stop()
	runner.Stop()
}

func TestEnv_DuplicateProjection(t *testing.T) {
	_, err := es.NewEnv(es.WithProjections(newCounterTotals(), newCounterTotals()))
	require.Error(t, err)
}

func TestMiddlewares(t *testing.T) {
	var seen []string
	h := es.HandleFunc(func(msgCtx es.MsgCtx) error {
		seen = append(seen, msgCtx.AggregateType())
		return nil
	})
	filtered := es.OnlyAggregates(domain.AggType)(es.NewLogMiddleware()(h))

	for _, typ := range []string{domain.AggType, "other"} {
		msgCtx := es.NewMsgCtx(t.Context(), es.Envelope{AggregateType: typ}, nil)
		require.NoError(t, filtered.Handle(msgCtx))
	}
	require.Equal(t, []string{domain.AggType}, seen)
}
