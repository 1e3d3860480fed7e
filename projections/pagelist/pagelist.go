// Package pagelist maintains the page_list read model: one row per page with
// its display fields and lifecycle status.
package pagelist

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/domain/page"
)

const Name = "page_list"

var ErrNotFound = errors.New("page_list: row not found")

type (
	Row struct {
		PageID      string      `json:"page_id"`
		Name        string      `json:"name"`
		Slug        string      `json:"slug"`
		AuthorID    string      `json:"author_id"`
		Status      page.Status `json:"status"`
		BlockCount  int         `json:"block_count"`
		PublishedAt *time.Time  `json:"published_at,omitempty"`
		DeletedAt   *time.Time  `json:"deleted_at,omitempty"`
		CreatedAt   time.Time   `json:"created_at"`
		UpdatedAt   time.Time   `json:"updated_at"`
		// Version of the last page event folded into the row.
		Version es.Version `json:"version"`
	}

	// Filter narrows List. Zero fields match everything; rows come newest
	// first.
	Filter struct {
		Status   page.Status
		AuthorID string
		Limit    int
		Offset   int
	}

	// Store persists rows. Upsert must not replace a row holding the same
	// or a newer version.
	Store interface {
		Get(ctx context.Context, pageID string) (Row, error)
		Upsert(ctx context.Context, row Row) error
		List(ctx context.Context, f Filter) ([]Row, error)
		Reset(ctx context.Context) error
	}
)

// Projection folds page events into a Store.
type Projection struct {
	store Store
}

func New(store Store) *Projection {
	return &Projection{store: store}
}

func (p *Projection) Name() string { return Name }

func (p *Projection) Reset(ctx context.Context) error { return p.store.Reset(ctx) }

// Store returns the store the projection writes to.
func (p *Projection) Store() Store { return p.store }

func (p *Projection) Handle(msgCtx es.MsgCtx) error {
	if msgCtx.AggregateType() != page.AggType {
		return nil
	}
	ctx := msgCtx.Context()
	id := msgCtx.AggregateID()

	row, err := p.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		row = Row{PageID: id}
	case err != nil:
		return err
	}
	if msgCtx.Version() <= row.Version {
		msgCtx.Log().Debug("already applied", row.Version.SlogAttrWithKey("row_version"))
		return nil
	}

	if !fold(&row, msgCtx.Event()) {
		msgCtx.Log().Debug("event not projected", slog.String("type", msgCtx.Type()))
	}
	row.Version = msgCtx.Version()
	return p.store.Upsert(ctx, row)
}

// fold applies ev to row and reports whether ev changed it.
func fold(row *Row, ev any) bool {
	switch e := ev.(type) {
	case *page.Created:
		row.Name = e.Name
		row.Slug = e.Slug
		row.AuthorID = e.AuthorID
		row.Status = page.StatusDraft
		row.CreatedAt = e.At
		row.UpdatedAt = e.At
	case *page.Renamed:
		row.Name = e.Name
		row.UpdatedAt = e.At
	case *page.SlugChanged:
		row.Slug = e.Slug
		row.UpdatedAt = e.At
	case *page.ContentUpdated:
		row.UpdatedAt = e.At
	case *page.Published:
		at := e.At
		row.Status = page.StatusPublished
		row.PublishedAt = &at
		row.UpdatedAt = e.At
	case *page.Unpublished:
		row.Status = page.StatusDraft
		row.PublishedAt = nil
		row.UpdatedAt = e.At
	case *page.Deleted:
		at := e.At
		row.Status = page.StatusDeleted
		row.DeletedAt = &at
		row.UpdatedAt = e.At
	case *page.Restored:
		row.Status = page.StatusDraft
		row.PublishedAt = nil
		row.DeletedAt = nil
		row.UpdatedAt = e.At
	case *page.BlockAttached:
		row.BlockCount++
		row.UpdatedAt = e.At
	case *page.BlockDetached:
		row.BlockCount--
		row.UpdatedAt = e.At
	case *page.BlocksReordered:
		row.UpdatedAt = e.At
	default:
		return false
	}
	return true
}

var (
	_ es.Projection = (*Projection)(nil)
	_ es.Resetter   = (*Projection)(nil)
)
