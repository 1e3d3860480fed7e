package estests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/core/es/estests/domain"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newCounterRepo(t *testing.T, opts ...es.EnvOption) (*es.TestingEnv, es.TypedRepository[*domain.Counter]) {
	te := es.StartTestEnv(t, opts...)
	return te, es.NewTypedRepositoryFor[*domain.Counter](te.Env)
}

func createCounter(t *testing.T, repo es.TypedRepository[*domain.Counter], id string) *domain.Counter {
	a := repo.NewWithID(id)
	require.NoError(t, a.Create(t0))
	require.NoError(t, repo.Save(t.Context(), a))
	return a
}

func TestRepository_notFound(t *testing.T) {
	te, repo := newCounterRepo(t)
	require.ErrorIs(t, te.Repository().Load(t.Context(), domain.NewCounter("foobar")), es.ErrAggregateNotFound)

	_, err := repo.GetByID(t.Context(), "foobar")
	require.ErrorIs(t, err, es.ErrAggregateNotFound)

	_, err = repo.History(t.Context(), "foobar")
	require.ErrorIs(t, err, es.ErrAggregateNotFound)
}

func TestRepository_Typed(t *testing.T) {
	_, repo := newCounterRepo(t)
	require.Equal(t, domain.AggType, repo.GetAggType())

	a := createCounter(t, repo, "my-agg-1")
	require.Equal(t, es.Version(1), a.GetVersion())
	require.Empty(t, a.Uncommitted())

	require.NoError(t, a.IncBy(7))
	require.NoError(t, a.IncBy(3))
	require.NoError(t, repo.Save(t.Context(), a))
	require.Equal(t, es.Version(3), a.GetVersion())
	require.NotZero(t, a.GetSeq())

	loaded, err := repo.GetByID(t.Context(), "my-agg-1")
	require.NoError(t, err)
	require.Equal(t, 10, loaded.Count())
	require.Equal(t, es.Version(3), loaded.GetVersion())
	require.Equal(t, a.GetSeq(), loaded.GetSeq())

	// saving without changes is a no-op
	require.NoError(t, repo.Save(t.Context(), loaded))
	require.Equal(t, es.Version(3), loaded.GetVersion())
}

func TestRepository_RejectedCommandRecordsNothing(t *testing.T) {
	_, repo := newCounterRepo(t)
	a := createCounter(t, repo, "c")

	err := a.IncBy(25)
	require.ErrorIs(t, err, es.ErrInvariantViolation)
	var ie *es.InvariantError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, domain.AggType, ie.AggType)
	require.Equal(t, "c", ie.AggID)
	require.Equal(t, "increment", ie.Op)
	require.Equal(t, "counter cannot exceed 24", ie.Reason)
	require.Empty(t, a.Uncommitted())

	require.ErrorIs(t, a.Create(t0), es.ErrInvariantViolation)
	require.ErrorIs(t, domain.NewCounter("x").Inc(), es.ErrInvariantViolation)
}

func TestRepository_Conflict(t *testing.T) {
	_, repo := newCounterRepo(t)
	createCounter(t, repo, "c")

	a, err := repo.GetByID(t.Context(), "c")
	require.NoError(t, err)
	b, err := repo.GetByID(t.Context(), "c")
	require.NoError(t, err)

	require.NoError(t, a.Inc())
	require.NoError(t, b.IncBy(2))

	require.NoError(t, repo.Save(t.Context(), a))
	err = repo.Save(t.Context(), b)
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	var ce *es.ConflictError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, es.Version(1), ce.Expected)
	require.Equal(t, es.Version(2), ce.Actual)

	loaded, err := repo.GetByID(t.Context(), "c")
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Count())
}

func TestRepository_VersionsAreGapless(t *testing.T) {
	te, repo := newCounterRepo(t)
	a := createCounter(t, repo, "c")
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Inc())
		if i%2 == 0 {
			require.NoError(t, repo.Save(t.Context(), a))
		}
	}
	require.NoError(t, repo.Save(t.Context(), a))

	events, err := te.Store().Load(t.Context(), domain.AggType, "c")
	require.NoError(t, err)
	require.Len(t, events, 6)
	for i, e := range events {
		require.Equal(t, es.Version(i+1), e.Version)
	}
	te.Assert().StreamVersion(t.Context(), domain.AggType, "c", 6)
}

func TestRepository_WithTransaction(t *testing.T) {
	_, repo := newCounterRepo(t)

	a, err := repo.WithTransaction(t.Context(), "tx", func(c *domain.Counter) error {
		return c.Create(t0)
	}, es.WithCreate())
	require.NoError(t, err)
	require.Equal(t, es.Version(1), a.GetVersion())

	_, err = repo.WithTransaction(t.Context(), "missing", func(c *domain.Counter) error { return c.Inc() })
	require.ErrorIs(t, err, es.ErrAggregateNotFound)

	const N = 10
	var wg sync.WaitGroup
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.WithTransaction(t.Context(), "tx", func(c *domain.Counter) error { return c.Inc() })
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	a, err = repo.GetByID(t.Context(), "tx")
	require.NoError(t, err)
	require.Equal(t, N, a.Count())
	require.Equal(t, es.Version(N+1), a.GetVersion())
}

func TestRepository_WithTransactionRetriesConflicts(t *testing.T) {
	te, repo := newCounterRepo(t)
	createCounter(t, repo, "c")

	// a writer outside the repository sneaks in once
	attempts := 0
	_, err := repo.WithTransaction(t.Context(), "c", func(c *domain.Counter) error {
		attempts++
		if attempts == 1 {
			_, err := te.Append(t.Context(), c.GetVersion(), domain.AggType, "c", &domain.Incremented{By: 5})
			require.NoError(t, err)
		}
		return c.Inc()
	}, es.WithRetry(3))
	require.NoError(t, err)
	require.Equal(t, 2, attempts)

	a, err := repo.GetByID(t.Context(), "c")
	require.NoError(t, err)
	require.Equal(t, 6, a.Count())

	// without retries the conflict surfaces
	attempts = 0
	_, err = repo.WithTransaction(t.Context(), "c", func(c *domain.Counter) error {
		attempts++
		_, err := te.Append(t.Context(), c.GetVersion(), domain.AggType, "c", &domain.Incremented{By: 1})
		require.NoError(t, err)
		return c.Inc()
	})
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	require.Equal(t, 1, attempts)
}

func TestRepository_Metadata(t *testing.T) {
	_, repo := newCounterRepo(t)
	ctx := es.ContextWithMetadata(t.Context(), es.Metadata{"correlation_id": "abc"})
	ctx = es.ContextWithMetadata(ctx, es.Metadata{"actor": "u1"})

	a := repo.NewWithID("c")
	require.NoError(t, a.Create(t0))
	require.NoError(t, repo.Save(ctx, a))

	history, err := repo.History(t.Context(), "c")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, es.Metadata{"correlation_id": "abc", "actor": "u1"}, history[0].Metadata)
	require.Equal(t, "counter.created", history[0].Type)
	require.IsType(t, &domain.Created{}, history[0].Event)
}

func TestRepository_UnregisteredEvent(t *testing.T) {
	store := es.NewInMemoryStore()
	repo := es.NewRepository(store, es.NewRegistry())
	a := domain.NewCounter("c")
	require.NoError(t, a.Create(t0))
	require.ErrorIs(t, repo.Save(t.Context(), a), es.ErrUnknownEventType)
}

func TestRepository_ReplayIsDeterministic(t *testing.T) {
	_, repo := newCounterRepo(t)
	a := createCounter(t, repo, "c")
	require.NoError(t, a.IncBy(4))
	require.NoError(t, a.Reset())
	require.NoError(t, a.IncBy(2))
	require.NoError(t, a.Close())
	require.NoError(t, repo.Save(t.Context(), a))

	x, err := repo.GetByID(t.Context(), "c")
	require.NoError(t, err)
	y, err := repo.GetByID(t.Context(), "c")
	require.NoError(t, err)
	require.Equal(t, a.StateJSON(), x.StateJSON())
	require.Equal(t, x.StateJSON(), y.StateJSON())
	require.True(t, x.IsClosed())
	require.ErrorIs(t, x.Inc(), es.ErrInvariantViolation)
}

// crossedStore serves the events of one stream for another.
type crossedStore struct {
	es.EventStore
	from, to string
}

func (s *crossedStore) Load(ctx context.Context, aggType, aggID string, opts ...es.StoreLoadOption) ([]es.Envelope, error) {
	if aggID == s.from {
		aggID = s.to
	}
	return s.EventStore.Load(ctx, aggType, aggID, opts...)
}

func TestRepository_LoadRejectsForeignEvents(t *testing.T) {
	store := &crossedStore{EventStore: es.NewInMemoryStore(), from: "a", to: "b"}
	_, repo := newCounterRepo(t, es.WithStore(store))
	createCounter(t, repo, "b")

	_, err := repo.GetByID(t.Context(), "a")
	require.ErrorContains(t, err, "belongs to "+domain.AggType+"/b")
}
