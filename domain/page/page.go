// Package page holds the Page and Block aggregates. Both are rebuilt from
// their event streams; commands check invariants and record events, Apply
// only mutates state.
package page

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/core/es/assert"
)

const AggType = "page"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusDeleted   Status = "deleted"
)

type (
	Page struct {
		es.BaseAggregate
		state State
	}

	// State is the replayed page. It is also the snapshot payload.
	State struct {
		Created     bool       `json:"created"`
		Name        string     `json:"name"`
		Slug        string     `json:"slug"`
		AuthorID    string     `json:"author_id"`
		Content     string     `json:"content,omitempty"`
		Published   bool       `json:"published"`
		PublishedAt *time.Time `json:"published_at,omitempty"`
		Deleted     bool       `json:"deleted"`
		DeletedAt   *time.Time `json:"deleted_at,omitempty"`
		CreatedAt   time.Time  `json:"created_at"`
		UpdatedAt   time.Time  `json:"updated_at"`
		BlockIDs    []string   `json:"block_ids,omitempty"`
	}
)

// Status derives the lifecycle state: deleted wins over published, which
// wins over draft.
func (s State) Status() Status {
	switch {
	case s.Deleted:
		return StatusDeleted
	case s.Published:
		return StatusPublished
	default:
		return StatusDraft
	}
}

func (a *Page) GetAggType() string { return AggType }
func (a *Page) Register(r es.Registrar) {
	es.RegisterEvents(r, Events()...)
	r.Upcast(Created{}.EventType(), 1, UpcastCreatedV1)
}

func (a *Page) Apply(event any) error {
	switch e := event.(type) {
	case *Created:
		a.state.Created = true
		a.state.Name = e.Name
		a.state.Slug = e.Slug
		a.state.AuthorID = e.AuthorID
		a.state.Content = e.Content
		a.state.CreatedAt = e.At
		a.state.UpdatedAt = e.At
	case *Renamed:
		a.state.Name = e.Name
		a.state.UpdatedAt = e.At
	case *SlugChanged:
		a.state.Slug = e.Slug
		a.state.UpdatedAt = e.At
	case *ContentUpdated:
		a.state.Content = e.Content
		a.state.UpdatedAt = e.At
	case *Published:
		at := e.At
		a.state.Published = true
		a.state.PublishedAt = &at
		a.state.UpdatedAt = e.At
	case *Unpublished:
		a.state.Published = false
		a.state.PublishedAt = nil
		a.state.UpdatedAt = e.At
	case *Deleted:
		at := e.At
		a.state.Deleted = true
		a.state.DeletedAt = &at
		a.state.UpdatedAt = e.At
	case *Restored:
		a.state.Deleted = false
		a.state.DeletedAt = nil
		a.state.Published = false
		a.state.PublishedAt = nil
		a.state.UpdatedAt = e.At
	case *BlockAttached:
		a.state.BlockIDs = append(a.state.BlockIDs, e.BlockID)
		a.state.UpdatedAt = e.At
	case *BlockDetached:
		a.state.BlockIDs = blockList(slices.DeleteFunc(a.state.BlockIDs, func(id string) bool { return id == e.BlockID }))
		a.state.UpdatedAt = e.At
	case *BlocksReordered:
		a.state.BlockIDs = blockList(slices.Clone(e.BlockIDs))
		a.state.UpdatedAt = e.At
	default:
		return es.UnknownEvent(a, event)
	}
	return nil
}

func (a *Page) Snapshot() ([]byte, error) { return json.Marshal(a.state) }
func (a *Page) RestoreSnapshot(data []byte) error {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	a.state = s
	return nil
}

var _ es.Snapshottable = &Page{}

// === Commands ===

func (a *Page) Create(name, slug, authorID, content string, at time.Time) error {
	if slug == "" {
		slug = Slugify(name)
	}
	if err := es.Guard(a, "create",
		assert.False(a.state.Created, "already created"),
		assert.NotEmpty(name, "name is required"),
		assert.NotEmpty(authorID, "author is required"),
		assert.True(ValidSlug(slug), "slug is invalid"),
	); err != nil {
		return err
	}
	return es.RaiseAndApply(a, &Created{Name: name, Slug: slug, AuthorID: authorID, Content: content, At: at})
}

// mutable guards every command that edits a live page.
func (a *Page) mutable(op string, conds ...assert.Cond) error {
	return es.Guard(a, op, append([]assert.Cond{
		assert.True(a.state.Created, "not created"),
		assert.False(a.state.Deleted, "page is deleted"),
	}, conds...)...)
}

func (a *Page) Rename(name string, at time.Time) error {
	if err := a.mutable("rename", assert.NotEmpty(name, "name is required")); err != nil {
		return err
	}
	if name == a.state.Name {
		return nil
	}
	return es.RaiseAndApply(a, &Renamed{Name: name, At: at})
}

func (a *Page) ChangeSlug(slug string, at time.Time) error {
	if err := a.mutable("change slug", assert.True(ValidSlug(slug), "slug is invalid")); err != nil {
		return err
	}
	if slug == a.state.Slug {
		return nil
	}
	return es.RaiseAndApply(a, &SlugChanged{Slug: slug, At: at})
}

func (a *Page) UpdateContent(content string, at time.Time) error {
	if err := a.mutable("update content"); err != nil {
		return err
	}
	if content == a.state.Content {
		return nil
	}
	return es.RaiseAndApply(a, &ContentUpdated{Content: content, At: at})
}

func (a *Page) Publish(at time.Time) error {
	if err := a.mutable("publish"); err != nil {
		return err
	}
	if a.state.Published {
		return nil
	}
	return es.RaiseAndApply(a, &Published{At: at})
}

func (a *Page) Unpublish(at time.Time) error {
	if err := a.mutable("unpublish"); err != nil {
		return err
	}
	if !a.state.Published {
		return nil
	}
	return es.RaiseAndApply(a, &Unpublished{At: at})
}

func (a *Page) Delete(at time.Time) error {
	if err := es.Guard(a, "delete", assert.True(a.state.Created, "not created")); err != nil {
		return err
	}
	if a.state.Deleted {
		return nil
	}
	return es.RaiseAndApply(a, &Deleted{At: at})
}

// Restore brings a deleted page back as a draft.
func (a *Page) Restore(at time.Time) error {
	if err := es.Guard(a, "restore", assert.True(a.state.Created, "not created")); err != nil {
		return err
	}
	if !a.state.Deleted {
		return nil
	}
	return es.RaiseAndApply(a, &Restored{At: at})
}

func (a *Page) AttachBlock(blockID string, at time.Time) error {
	if err := a.mutable("attach block",
		assert.NotEmpty(blockID, "block id is required"),
		assert.False(a.HasBlock(blockID), "block already attached"),
	); err != nil {
		return err
	}
	return es.RaiseAndApply(a, &BlockAttached{BlockID: blockID, At: at})
}

func (a *Page) DetachBlock(blockID string, at time.Time) error {
	if err := a.mutable("detach block"); err != nil {
		return err
	}
	if !a.HasBlock(blockID) {
		return nil
	}
	return es.RaiseAndApply(a, &BlockDetached{BlockID: blockID, At: at})
}

// ReorderBlocks replaces the block order. ids must be a permutation of the
// attached blocks.
func (a *Page) ReorderBlocks(ids []string, at time.Time) error {
	if err := a.mutable("reorder blocks",
		assert.True(samePermutation(a.state.BlockIDs, ids), "block ids do not match attached blocks"),
	); err != nil {
		return err
	}
	if slices.Equal(ids, a.state.BlockIDs) {
		return nil
	}
	return es.RaiseAndApply(a, &BlocksReordered{BlockIDs: slices.Clone(ids), At: at})
}

func samePermutation(have, want []string) bool {
	if len(have) != len(want) {
		return false
	}
	a, b := slices.Clone(have), slices.Clone(want)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// === Read ===

func (a *Page) Exists() bool      { return a.state.Created }
func (a *Page) Status() Status    { return a.state.Status() }
func (a *Page) Name() string      { return a.state.Name }
func (a *Page) Slug() string      { return a.state.Slug }
func (a *Page) IsDeleted() bool   { return a.state.Deleted }
func (a *Page) IsPublished() bool { return a.state.Published }
// blockList keeps an empty block list nil, as a snapshot restores it.
func blockList(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	return ids
}

func (a *Page) HasBlock(id string) bool {
	return slices.Contains(a.state.BlockIDs, id)
}

// State returns a copy of the page state.
func (a *Page) State() State {
	s := a.state
	s.BlockIDs = slices.Clone(a.state.BlockIDs)
	return s
}

func NewPage(id string) *Page {
	a := &Page{}
	a.SetID(id)
	return a
}
