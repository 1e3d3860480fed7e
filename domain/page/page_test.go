package page_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/domain/page"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

func newPageRepo(t *testing.T, opts ...es.EnvOption) es.TypedRepository[*page.Page] {
	te := es.StartTestEnv(t, opts...)
	return es.NewTypedRepositoryFor[*page.Page](te.Env)
}

func requireInvariant(t *testing.T, err error, op string) {
	t.Helper()
	require.ErrorIs(t, err, es.ErrInvariantViolation)
	var ie *es.InvariantError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, op, ie.Op)
}

func TestPage_Lifecycle(t *testing.T) {
	ctx := t.Context()
	repo := newPageRepo(t)

	// A: create
	p := repo.NewWithID("p1")
	require.NoError(t, p.Create("Home", "home", "u1", "", at(0)))
	require.NoError(t, repo.Save(ctx, p))
	require.Equal(t, page.StatusDraft, p.Status())
	require.Equal(t, es.Version(1), p.GetVersion())

	// B: publish
	p, err := repo.WithTransaction(ctx, "p1", func(p *page.Page) error { return p.Publish(at(1)) })
	require.NoError(t, err)
	require.Equal(t, page.StatusPublished, p.Status())
	require.Equal(t, es.Version(2), p.GetVersion())
	require.NotNil(t, p.State().PublishedAt)
	require.Equal(t, at(1), *p.State().PublishedAt)

	// C: delete, then rename is rejected
	p, err = repo.WithTransaction(ctx, "p1", func(p *page.Page) error { return p.Delete(at(2)) })
	require.NoError(t, err)
	require.Equal(t, page.StatusDeleted, p.Status())
	require.Equal(t, es.Version(3), p.GetVersion())

	_, err = repo.WithTransaction(ctx, "p1", func(p *page.Page) error { return p.Rename("Start", at(3)) })
	requireInvariant(t, err, "rename")

	// D: restore comes back as draft
	p, err = repo.WithTransaction(ctx, "p1", func(p *page.Page) error { return p.Restore(at(4)) })
	require.NoError(t, err)
	require.Equal(t, page.StatusDraft, p.Status())
	require.Nil(t, p.State().PublishedAt)
	require.Equal(t, es.Version(4), p.GetVersion())

	// E: two writers at version 4
	a, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	b, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, a.Publish(at(5)))
	require.NoError(t, b.Publish(at(5)))
	require.NoError(t, repo.Save(ctx, a))
	err = repo.Save(ctx, b)
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
	var ce *es.ConflictError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, es.Version(4), ce.Expected)
	require.Equal(t, es.Version(5), ce.Actual)

	loaded, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, es.Version(5), loaded.GetVersion())
	require.Equal(t, page.StatusPublished, loaded.Status())

	history, err := repo.History(ctx, "p1")
	require.NoError(t, err)
	types := make([]string, 0, len(history))
	for i, h := range history {
		require.Equal(t, es.Version(i+1), h.Version)
		types = append(types, h.Type)
	}
	require.Equal(t, []string{
		"page.created", "page.published", "page.deleted", "page.restored", "page.published",
	}, types)
}

func TestPage_NoOps(t *testing.T) {
	p := page.NewPage("p")
	require.NoError(t, p.Create("Home", "", "u1", "hello", at(0)))
	require.Equal(t, "home", p.Slug())
	p.ClearUncommitted()

	require.NoError(t, p.Unpublish(at(1)))
	require.NoError(t, p.Rename("Home", at(1)))
	require.NoError(t, p.ChangeSlug("home", at(1)))
	require.NoError(t, p.UpdateContent("hello", at(1)))
	require.NoError(t, p.Restore(at(1)))
	require.NoError(t, p.DetachBlock("missing", at(1)))
	require.NoError(t, p.ReorderBlocks(nil, at(1)))
	require.Empty(t, p.Uncommitted())

	require.NoError(t, p.Publish(at(2)))
	require.NoError(t, p.Publish(at(3)))
	require.Len(t, p.Uncommitted(), 1)

	require.NoError(t, p.Delete(at(4)))
	require.NoError(t, p.Delete(at(5)))
	require.Len(t, p.Uncommitted(), 2)
}

func TestPage_Invariants(t *testing.T) {
	fresh := page.NewPage("p")
	requireInvariant(t, fresh.Publish(at(0)), "publish")
	requireInvariant(t, fresh.Delete(at(0)), "delete")
	requireInvariant(t, fresh.Restore(at(0)), "restore")
	requireInvariant(t, fresh.Create("", "x", "u1", "", at(0)), "create")
	requireInvariant(t, fresh.Create("Home", "Not A Slug", "u1", "", at(0)), "create")
	requireInvariant(t, fresh.Create("Home", "home", "", "", at(0)), "create")
	require.Empty(t, fresh.Uncommitted())

	p := page.NewPage("p")
	require.NoError(t, p.Create("Home", "home", "u1", "", at(0)))
	requireInvariant(t, p.Create("Home", "home", "u1", "", at(0)), "create")
	requireInvariant(t, p.Rename("", at(1)), "rename")
	requireInvariant(t, p.ChangeSlug("-bad-", at(1)), "change slug")

	require.NoError(t, p.AttachBlock("b1", at(1)))
	require.NoError(t, p.AttachBlock("b2", at(1)))
	requireInvariant(t, p.AttachBlock("b1", at(2)), "attach block")
	requireInvariant(t, p.ReorderBlocks([]string{"b1"}, at(2)), "reorder blocks")
	requireInvariant(t, p.ReorderBlocks([]string{"b1", "b3"}, at(2)), "reorder blocks")
	requireInvariant(t, p.ReorderBlocks([]string{"b1", "b1"}, at(2)), "reorder blocks")

	require.NoError(t, p.Delete(at(3)))
	n := len(p.Uncommitted())
	requireInvariant(t, p.Publish(at(4)), "publish")
	requireInvariant(t, p.Unpublish(at(4)), "unpublish")
	requireInvariant(t, p.UpdateContent("x", at(4)), "update content")
	requireInvariant(t, p.AttachBlock("b3", at(4)), "attach block")
	requireInvariant(t, p.ReorderBlocks([]string{"b2", "b1"}, at(4)), "reorder blocks")
	require.Len(t, p.Uncommitted(), n)
}

func TestPage_Blocks(t *testing.T) {
	p := page.NewPage("p")
	require.NoError(t, p.Create("Home", "home", "u1", "", at(0)))
	require.NoError(t, p.AttachBlock("b1", at(1)))
	require.NoError(t, p.AttachBlock("b2", at(1)))
	require.NoError(t, p.AttachBlock("b3", at(1)))

	require.NoError(t, p.ReorderBlocks([]string{"b3", "b1", "b2"}, at(2)))
	require.Equal(t, []string{"b3", "b1", "b2"}, p.State().BlockIDs)

	require.NoError(t, p.DetachBlock("b1", at(3)))
	require.Equal(t, []string{"b3", "b2"}, p.State().BlockIDs)
	require.False(t, p.HasBlock("b1"))

	// State is a copy
	s := p.State()
	s.BlockIDs[0] = "zzz"
	require.Equal(t, []string{"b3", "b2"}, p.State().BlockIDs)
}

func TestPage_RestoreDropsPublication(t *testing.T) {
	p := page.NewPage("p")
	require.NoError(t, p.Create("Home", "home", "u1", "", at(0)))
	require.NoError(t, p.Publish(at(1)))
	require.NoError(t, p.Delete(at(2)))
	require.Equal(t, page.StatusDeleted, p.Status())
	require.True(t, p.IsPublished())

	require.NoError(t, p.Restore(at(3)))
	require.Equal(t, page.StatusDraft, p.Status())
	require.False(t, p.IsPublished())
	require.Nil(t, p.State().DeletedAt)
}

func TestPage_ApplyEveryEvent(t *testing.T) {
	for _, ctor := range page.Events() {
		ev := ctor()
		t.Run(es.EventTypeOf(ev), func(t *testing.T) {
			p := page.NewPage("p")
			require.NoError(t, p.Apply(ev))
		})
	}

	err := page.NewPage("p").Apply(&page.BlockCreated{})
	require.ErrorIs(t, err, es.ErrUnknownEventType)
}

func TestPage_RegistryCoversEvents(t *testing.T) {
	reg := es.NewRegistry()
	page.NewPage("").Register(reg)
	require.Len(t, reg.Types(), len(page.Events()))
	for _, ctor := range page.Events() {
		require.True(t, reg.Has(es.EventTypeOf(ctor())))
	}
}

func TestPage_UpcastCreatedV1(t *testing.T) {
	reg := es.NewRegistry()
	page.NewPage("").Register(reg)

	ev, err := reg.Decode(es.Envelope{
		Type:         "page.created",
		EventVersion: 1,
		Data:         json.RawMessage(`{"name":"Hello World","author_id":"u1","at":"2024-05-01T12:00:00Z"}`),
	})
	require.NoError(t, err)
	created, ok := ev.(*page.Created)
	require.True(t, ok)
	require.Equal(t, "hello-world", created.Slug)
	require.Equal(t, "Hello World", created.Name)
	require.Equal(t, "u1", created.AuthorID)
	require.Equal(t, t0, created.At)

	_, version, _, err := reg.Encode(created)
	require.NoError(t, err)
	require.Equal(t, 2, version)
}

func TestPage_SnapshotRoundTrip(t *testing.T) {
	ctx := t.Context()
	snaps := es.NewInMemorySnapshotter()
	repo := newPageRepo(t,
		es.WithSnapshotter(snaps),
		es.WithSnapshotPolicy(es.SnapshotEvery(3)),
	)

	p := repo.NewWithID("p")
	require.NoError(t, p.Create("Home", "home", "u1", "", at(0)))
	require.NoError(t, p.AttachBlock("b1", at(1)))
	require.NoError(t, p.Publish(at(2)))
	require.NoError(t, repo.Save(ctx, p))

	snap, err := snaps.LoadSnapshot(ctx, page.AggType, "p", 3)
	require.NoError(t, err)
	require.Equal(t, es.Version(3), snap.ObjVersion)

	_, err = repo.WithTransaction(ctx, "p", func(p *page.Page) error { return p.Rename("Start", at(3)) })
	require.NoError(t, err)
	snap, err = snaps.LoadSnapshot(ctx, page.AggType, "p", 4)
	require.NoError(t, err)
	require.Equal(t, es.Version(3), snap.ObjVersion)

	withSnap, err := repo.GetByID(ctx, "p")
	require.NoError(t, err)
	replayed, err := repo.GetByID(ctx, "p", es.WithSnapshot(false))
	require.NoError(t, err)
	require.Equal(t, replayed.State(), withSnap.State())
	require.Equal(t, es.Version(4), withSnap.GetVersion())
}

func TestPage_SnapshotOfEmptiedBlockList(t *testing.T) {
	ctx := t.Context()
	snaps := es.NewInMemorySnapshotter()
	repo := newPageRepo(t,
		es.WithSnapshotter(snaps),
		es.WithSnapshotPolicy(es.SnapshotEvery(3)),
	)

	p := repo.NewWithID("p")
	require.NoError(t, p.Create("Home", "home", "u1", "", at(0)))
	require.NoError(t, p.AttachBlock("b1", at(1)))
	require.NoError(t, p.DetachBlock("b1", at(2)))
	require.NoError(t, repo.Save(ctx, p))

	snap, err := snaps.LoadSnapshot(ctx, page.AggType, "p", 3)
	require.NoError(t, err)
	require.Equal(t, es.Version(3), snap.ObjVersion)

	withSnap, err := repo.GetByID(ctx, "p")
	require.NoError(t, err)
	replayed, err := repo.GetByID(ctx, "p", es.WithSnapshot(false))
	require.NoError(t, err)
	require.Equal(t, replayed.State(), withSnap.State())
	require.Nil(t, replayed.State().BlockIDs)

	require.NoError(t, replayed.ReorderBlocks(nil, at(3)))
	require.Empty(t, replayed.Uncommitted())
}
