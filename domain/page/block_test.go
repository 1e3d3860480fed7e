package page_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/domain/page"
)

func TestBlock_Lifecycle(t *testing.T) {
	ctx := t.Context()
	te := es.StartTestEnv(t)
	repo := es.NewTypedRepositoryFor[*page.Block](te.Env)

	b := repo.NewWithID("b1")
	require.NoError(t, b.Create("p1", "hero", 0, `{"title":"Hi"}`, at(0)))
	require.NoError(t, repo.Save(ctx, b))

	b, err := repo.WithTransaction(ctx, "b1", func(b *page.Block) error {
		if err := b.UpdateContent(`{"title":"Hello"}`, at(1)); err != nil {
			return err
		}
		return b.ChangeOrder(2, at(1))
	})
	require.NoError(t, err)
	require.Equal(t, es.Version(3), b.GetVersion())
	require.Equal(t, 2, b.SortOrder())
	require.Equal(t, `{"title":"Hello"}`, b.Content())

	b, err = repo.WithTransaction(ctx, "b1", func(b *page.Block) error { return b.Delete(at(2)) })
	require.NoError(t, err)
	require.True(t, b.IsDeleted())

	_, err = repo.WithTransaction(ctx, "b1", func(b *page.Block) error { return b.ChangeOrder(3, at(3)) })
	requireInvariant(t, err, "change order")

	b, err = repo.WithTransaction(ctx, "b1", func(b *page.Block) error { return b.Restore(at(4)) })
	require.NoError(t, err)
	require.False(t, b.IsDeleted())
	require.Nil(t, b.State().DeletedAt)
	require.Equal(t, es.Version(5), b.GetVersion())
}

func TestBlock_NoOpsAndInvariants(t *testing.T) {
	fresh := page.NewBlock("b")
	requireInvariant(t, fresh.UpdateContent("x", at(0)), "update content")
	requireInvariant(t, fresh.Create("", "hero", 0, "", at(0)), "create")
	requireInvariant(t, fresh.Create("p", "", 0, "", at(0)), "create")
	requireInvariant(t, fresh.Create("p", "hero", -1, "", at(0)), "create")
	require.Empty(t, fresh.Uncommitted())

	b := page.NewBlock("b")
	require.NoError(t, b.Create("p", "hero", 1, "c", at(0)))
	requireInvariant(t, b.Create("p", "hero", 1, "c", at(0)), "create")
	requireInvariant(t, b.ChangeOrder(-2, at(1)), "change order")

	require.NoError(t, b.UpdateContent("c", at(1)))
	require.NoError(t, b.ChangeOrder(1, at(1)))
	require.NoError(t, b.Restore(at(1)))
	require.Len(t, b.Uncommitted(), 1)

	require.NoError(t, b.Delete(at(2)))
	require.NoError(t, b.Delete(at(3)))
	require.Len(t, b.Uncommitted(), 2)

	_, err := b.CopyAs("b2", at(4))
	requireInvariant(t, err, "duplicate")
	requireInvariant(t, b.RecordCopy("b2", at(4)), "duplicate")
	require.Len(t, b.Uncommitted(), 2)
}

func TestBlock_CopyAs(t *testing.T) {
	src := page.NewBlock("b1")
	require.NoError(t, src.Create("p1", "text", 4, "lorem", at(0)))
	src.ClearUncommitted()

	_, err := src.CopyAs("b1", at(1))
	requireInvariant(t, err, "duplicate")
	_, err = src.CopyAs("", at(1))
	requireInvariant(t, err, "duplicate")

	dup, err := src.CopyAs("b2", at(1))
	require.NoError(t, err)

	require.Equal(t, "b2", dup.GetID())
	require.Equal(t, "p1", dup.PageID())
	require.Equal(t, "text", dup.Component())
	require.Equal(t, "lorem", dup.Content())
	require.Equal(t, 5, dup.SortOrder())
	require.Equal(t, "b1", dup.State().DuplicatedFrom)
	require.Len(t, dup.Uncommitted(), 1)

	require.Empty(t, src.Uncommitted())
	require.Empty(t, src.State().Copies)
}

func TestBlock_RecordCopy(t *testing.T) {
	src := page.NewBlock("b1")
	require.NoError(t, src.Create("p1", "text", 4, "lorem", at(0)))
	src.ClearUncommitted()

	requireInvariant(t, src.RecordCopy("b1", at(1)), "duplicate")
	requireInvariant(t, src.RecordCopy("", at(1)), "duplicate")

	require.NoError(t, src.RecordCopy("b2", at(1)))
	require.NoError(t, src.RecordCopy("b2", at(2)))
	require.Equal(t, []any{&page.BlockDuplicated{NewBlockID: "b2", At: at(1)}}, src.Uncommitted())
	require.Equal(t, []string{"b2"}, src.State().Copies)
}

func TestBlock_ApplyEveryEvent(t *testing.T) {
	for _, ctor := range page.BlockEvents() {
		ev := ctor()
		t.Run(es.EventTypeOf(ev), func(t *testing.T) {
			require.NoError(t, page.NewBlock("b").Apply(ev))
		})
	}
	require.ErrorIs(t, page.NewBlock("b").Apply(&page.Published{}), es.ErrUnknownEventType)
}
