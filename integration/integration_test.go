package integration

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Truonghai2/BaultPHP-sub001/app"
	"github.com/Truonghai2/BaultPHP-sub001/app/pages"
	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/domain/page"
	"github.com/Truonghai2/BaultPHP-sub001/internal/config"
)

type driver struct {
	name string
	// persistent drivers keep the events across an app restart
	persistent bool
	store      func(t *testing.T) config.StoreConfig
}

var drivers = []driver{
	{name: "memory", store: func(*testing.T) config.StoreConfig {
		return config.StoreConfig{Driver: "memory"}
	}},
	{name: "sqlite", persistent: true, store: func(t *testing.T) config.StoreConfig {
		return config.StoreConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "pages.db")}
	}},
	{name: "postgres", persistent: true, store: func(t *testing.T) config.StoreConfig {
		return config.StoreConfig{Driver: "postgres", DSN: postgresDSN(t)}
	}},
	{name: "nats", persistent: true, store: func(t *testing.T) config.StoreConfig {
		s := config.Default().Store
		s.Driver = "nats"
		s.NATS.URL = natsURL(t)
		return s
	}},
}

func settings(store config.StoreConfig) config.Config {
	cfg := config.Default()
	cfg.Store = store
	cfg.Snapshot.Every = 3
	cfg.Retry.MaxAttempts = 50
	return cfg
}

func start(t *testing.T, cfg config.Config) *app.App {
	t.Helper()
	a, err := app.Run(app.Config{Context: t.Context(), Settings: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop() })
	return a
}

func TestPagestore(t *testing.T) {
	for _, d := range drivers {
		t.Run(d.name, func(t *testing.T) {
			ctx := t.Context()
			cfg := settings(d.store(t))
			a := start(t, cfg)
			svc := a.Service()

			// page lifecycle
			id, err := svc.CreatePage(ctx, pages.CreatePageInput{ID: "home", Name: "Home Page", AuthorID: "u1"})
			require.NoError(t, err)
			require.NoError(t, svc.UpdateContent(ctx, pages.UpdateContentInput{PageID: id, Content: "<p>hi</p>"}))
			require.NoError(t, svc.Publish(ctx, pages.PageInput{PageID: id}))

			// blocks
			b1, err := svc.AddBlock(ctx, pages.AddBlockInput{PageID: id, BlockID: "b1", Component: "hero"})
			require.NoError(t, err)
			b2, err := svc.AddBlock(ctx, pages.AddBlockInput{PageID: id, BlockID: "b2", Component: "text", SortOrder: 1})
			require.NoError(t, err)
			b3, err := svc.DuplicateBlock(ctx, pages.DuplicateBlockInput{BlockID: b1, NewBlockID: "b3"})
			require.NoError(t, err)
			require.NoError(t, svc.ReorderBlocks(ctx, pages.ReorderBlocksInput{PageID: id, BlockIDs: []string{b2, b1, b3}}))

			st, err := svc.GetState(ctx, id)
			require.NoError(t, err)
			require.Equal(t, []string{b2, b1, b3}, st.State.BlockIDs)
			require.Equal(t, page.StatusPublished, st.Status)

			// delete then restore returns to draft
			require.NoError(t, svc.DeletePage(ctx, pages.PageInput{PageID: id}))
			err = svc.RenamePage(ctx, pages.RenamePageInput{PageID: id, Name: "Nope"})
			require.ErrorIs(t, err, es.ErrInvariantViolation)
			require.NoError(t, svc.RestorePage(ctx, pages.PageInput{PageID: id}))

			// concurrent writers on one page
			var wg sync.WaitGroup
			for w := range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := range 5 {
						assert.NoError(t, svc.RenamePage(ctx, pages.RenamePageInput{
							PageID: id,
							Name:   fmt.Sprintf("writer %d rev %d", w, i),
						}))
					}
				}()
			}
			wg.Wait()

			want, err := svc.GetState(ctx, id)
			require.NoError(t, err)
			require.Equal(t, page.StatusDraft, want.Status)

			hist, err := svc.GetHistory(ctx, id)
			require.NoError(t, err)
			require.Len(t, hist, int(want.Version))
			for i, h := range hist {
				require.Equal(t, es.Version(i+1), h.Version)
			}

			rows, err := svc.ListPages(ctx, pages.ListPagesInput{})
			require.NoError(t, err)
			require.Len(t, rows, 1)
			require.Equal(t, want.Version, rows[0].Version)
			require.Equal(t, 3, rows[0].BlockCount)

			require.NoError(t, a.Stop())
			if !d.persistent {
				return
			}

			// a restarted app sees the same state and read model
			b := start(t, cfg)
			got, err := b.Service().GetState(ctx, id)
			require.NoError(t, err)
			require.Equal(t, want, got)

			rows, err = b.Service().ListPages(ctx, pages.ListPagesInput{Status: page.StatusDraft})
			require.NoError(t, err)
			require.Len(t, rows, 1)
			require.Equal(t, want.State.Name, rows[0].Name)

			blk, err := b.Service().GetBlockState(ctx, b3)
			require.NoError(t, err)
			require.Equal(t, b1, blk.State.DuplicatedFrom)
		})
	}
}
