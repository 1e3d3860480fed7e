package pagelist_test

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Truonghai2/BaultPHP-sub001/adapters/sqlstore"
	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/domain/page"
	"github.com/Truonghai2/BaultPHP-sub001/projections/pagelist"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

type storeFactory func(t *testing.T) pagelist.Store

var stores = map[string]storeFactory{
	"memory": func(t *testing.T) pagelist.Store { return pagelist.NewMemStore() },
	"sqlite": func(t *testing.T) pagelist.Store {
		db, err := sqlstore.Open(t.Context(), sqlstore.SQLite, filepath.Join(t.TempDir(), "pages.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		s, err := pagelist.NewSQLStore(t.Context(), db, sqlstore.SQLite)
		require.NoError(t, err)
		return s
	},
}

func seed(t *testing.T, repo es.TypedRepository[*page.Page]) {
	ctx := t.Context()

	p1 := repo.NewWithID("p1")
	require.NoError(t, p1.Create("Home", "home", "u1", "", at(0)))
	require.NoError(t, p1.Publish(at(1)))
	require.NoError(t, repo.Save(ctx, p1))

	p2 := repo.NewWithID("p2")
	require.NoError(t, p2.Create("About", "about", "u2", "", at(2)))
	require.NoError(t, repo.Save(ctx, p2))
	require.NoError(t, p2.AttachBlock("b1", at(3)))
	require.NoError(t, p2.AttachBlock("b2", at(3)))
	require.NoError(t, repo.Save(ctx, p2))
	require.NoError(t, p2.Delete(at(4)))
	require.NoError(t, repo.Save(ctx, p2))
}

func TestProjection(t *testing.T) {
	for name, factory := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			store := factory(t)
			proj := pagelist.New(store)
			te := es.StartTestEnv(t, es.WithProjections(proj))
			repo := es.NewTypedRepositoryFor[*page.Page](te.Env)
			seed(t, repo)

			runner, ok := te.Runner(pagelist.Name)
			require.True(t, ok)
			n, err := runner.RunOnce(ctx)
			require.NoError(t, err)
			require.Equal(t, 6, n)

			home, err := store.Get(ctx, "p1")
			require.NoError(t, err)
			require.Equal(t, "Home", home.Name)
			require.Equal(t, "home", home.Slug)
			require.Equal(t, page.StatusPublished, home.Status)
			require.NotNil(t, home.PublishedAt)
			require.True(t, at(1).Equal(*home.PublishedAt))
			require.Nil(t, home.DeletedAt)
			require.Equal(t, es.Version(2), home.Version)

			about, err := store.Get(ctx, "p2")
			require.NoError(t, err)
			require.Equal(t, page.StatusDeleted, about.Status)
			require.Equal(t, 2, about.BlockCount)
			require.NotNil(t, about.DeletedAt)
			require.True(t, at(2).Equal(about.CreatedAt))
			require.True(t, at(4).Equal(about.UpdatedAt))
			require.Equal(t, es.Version(4), about.Version)

			_, err = store.Get(ctx, "nope")
			require.ErrorIs(t, err, pagelist.ErrNotFound)

			all, err := store.List(ctx, pagelist.Filter{})
			require.NoError(t, err)
			require.Equal(t, []string{"p2", "p1"}, ids(all))

			published, err := store.List(ctx, pagelist.Filter{Status: page.StatusPublished})
			require.NoError(t, err)
			require.Equal(t, []string{"p1"}, ids(published))

			byAuthor, err := store.List(ctx, pagelist.Filter{AuthorID: "u2"})
			require.NoError(t, err)
			require.Equal(t, []string{"p2"}, ids(byAuthor))

			paged, err := store.List(ctx, pagelist.Filter{Limit: 1, Offset: 1})
			require.NoError(t, err)
			require.Equal(t, []string{"p1"}, ids(paged))

			skipped, err := store.List(ctx, pagelist.Filter{Offset: 1})
			require.NoError(t, err)
			require.Equal(t, []string{"p1"}, ids(skipped))

			// rebuild lands on the same rows
			n, err = runner.Rebuild(ctx)
			require.NoError(t, err)
			require.Equal(t, 6, n)
			rebuilt, err := store.List(ctx, pagelist.Filter{})
			require.NoError(t, err)
			require.Equal(t, all, rebuilt)
		})
	}
}

func TestProjection_Idempotent(t *testing.T) {
	for name, factory := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			store := factory(t)
			proj := pagelist.New(store)

			deliver := func(version es.Version, ev any) {
				data, err := json.Marshal(ev)
				require.NoError(t, err)
				env := es.Envelope{
					ID:            fmt.Sprintf("e%d", version),
					Seq:           uint64(version),
					Version:       version,
					AggregateType: page.AggType,
					AggregateID:   "p1",
					Type:          es.EventTypeOf(ev),
					Data:          data,
				}
				require.NoError(t, proj.Handle(es.NewMsgCtx(ctx, env, ev)))
			}

			deliver(1, &page.Created{Name: "Home", Slug: "home", AuthorID: "u1", At: at(0)})
			deliver(2, &page.BlockAttached{BlockID: "b1", At: at(1)})
			before, err := store.Get(ctx, "p1")
			require.NoError(t, err)

			// redelivery after a crash before the checkpoint was stored
			deliver(1, &page.Created{Name: "Home", Slug: "home", AuthorID: "u1", At: at(0)})
			deliver(2, &page.BlockAttached{BlockID: "b1", At: at(1)})
			after, err := store.Get(ctx, "p1")
			require.NoError(t, err)
			require.Equal(t, before, after)
			require.Equal(t, 1, after.BlockCount)

			// stale writes never replace newer rows
			stale := after
			stale.Name = "Old"
			stale.Version = 1
			require.NoError(t, store.Upsert(ctx, stale))
			got, err := store.Get(ctx, "p1")
			require.NoError(t, err)
			require.Equal(t, "Home", got.Name)

			// other aggregates are ignored
			env := es.Envelope{ID: "x", Seq: 9, Version: 1, AggregateType: page.BlockAggType, AggregateID: "b1", Type: "block.created"}
			require.NoError(t, proj.Handle(es.NewMsgCtx(ctx, env, &page.BlockCreated{PageID: "p1", Component: "hero"})))
			_, err = store.Get(ctx, "b1")
			require.ErrorIs(t, err, pagelist.ErrNotFound)

			require.NoError(t, proj.Reset(ctx))
			_, err = store.Get(ctx, "p1")
			require.ErrorIs(t, err, pagelist.ErrNotFound)
		})
	}
}

func ids(rows []pagelist.Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.PageID)
	}
	return out
}
