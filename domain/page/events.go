package page

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
)

// === Page events ===

type (
	// Created is at schema version 2; version 1 carried no slug.
	Created struct {
		Name     string    `json:"name"`
		Slug     string    `json:"slug"`
		AuthorID string    `json:"author_id"`
		Content  string    `json:"content,omitempty"`
		At       time.Time `json:"at"`
	}

	Renamed struct {
		Name string    `json:"name"`
		At   time.Time `json:"at"`
	}

	SlugChanged struct {
		Slug string    `json:"slug"`
		At   time.Time `json:"at"`
	}

	ContentUpdated struct {
		Content string    `json:"content"`
		At      time.Time `json:"at"`
	}

	Published struct {
		At time.Time `json:"at"`
	}

	Unpublished struct {
		At time.Time `json:"at"`
	}

	Deleted struct {
		At time.Time `json:"at"`
	}

	Restored struct {
		At time.Time `json:"at"`
	}

	BlockAttached struct {
		BlockID string    `json:"block_id"`
		At      time.Time `json:"at"`
	}

	BlockDetached struct {
		BlockID string    `json:"block_id"`
		At      time.Time `json:"at"`
	}

	BlocksReordered struct {
		BlockIDs []string  `json:"block_ids"`
		At       time.Time `json:"at"`
	}
)

func (Created) EventType() string         { return "page.created" }
func (Created) EventVersion() int         { return 2 }
func (Renamed) EventType() string         { return "page.renamed" }
func (SlugChanged) EventType() string     { return "page.slug_changed" }
func (ContentUpdated) EventType() string  { return "page.content_updated" }
func (Published) EventType() string       { return "page.published" }
func (Unpublished) EventType() string     { return "page.unpublished" }
func (Deleted) EventType() string         { return "page.deleted" }
func (Restored) EventType() string        { return "page.restored" }
func (BlockAttached) EventType() string   { return "page.block_attached" }
func (BlockDetached) EventType() string   { return "page.block_detached" }
func (BlocksReordered) EventType() string { return "page.blocks_reordered" }

func (e *Created) Validate() error {
	if e.Name == "" {
		return errors.New("name is empty")
	}
	if !ValidSlug(e.Slug) {
		return fmt.Errorf("invalid slug %q", e.Slug)
	}
	return nil
}

func (e *Renamed) Validate() error {
	if e.Name == "" {
		return errors.New("name is empty")
	}
	return nil
}

func (e *SlugChanged) Validate() error {
	if !ValidSlug(e.Slug) {
		return fmt.Errorf("invalid slug %q", e.Slug)
	}
	return nil
}

func (e *BlocksReordered) Validate() error {
	seen := make(map[string]struct{}, len(e.BlockIDs))
	for _, id := range e.BlockIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate block %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// UpcastCreatedV1 derives the slug that version 1 payloads lack from the
// page name.
func UpcastCreatedV1(data json.RawMessage) (json.RawMessage, error) {
	var v1 struct {
		Name     string    `json:"name"`
		AuthorID string    `json:"author_id"`
		Content  string    `json:"content,omitempty"`
		At       time.Time `json:"at"`
	}
	if err := json.Unmarshal(data, &v1); err != nil {
		return nil, err
	}
	return json.Marshal(Created{
		Name:     v1.Name,
		Slug:     Slugify(v1.Name),
		AuthorID: v1.AuthorID,
		Content:  v1.Content,
		At:       v1.At,
	})
}

// Events lists constructors for every page event. Apply handles exactly
// this set.
func Events() []func() any {
	return []func() any{
		es.Event[Created](),
		es.Event[Renamed](),
		es.Event[SlugChanged](),
		es.Event[ContentUpdated](),
		es.Event[Published](),
		es.Event[Unpublished](),
		es.Event[Deleted](),
		es.Event[Restored](),
		es.Event[BlockAttached](),
		es.Event[BlockDetached](),
		es.Event[BlocksReordered](),
	}
}

// === Block events ===

type (
	BlockCreated struct {
		PageID         string    `json:"page_id"`
		Component      string    `json:"component"`
		SortOrder      int       `json:"sort_order"`
		Content        string    `json:"content,omitempty"`
		DuplicatedFrom string    `json:"duplicated_from,omitempty"`
		At             time.Time `json:"at"`
	}

	BlockContentUpdated struct {
		Content string    `json:"content"`
		At      time.Time `json:"at"`
	}

	BlockOrderChanged struct {
		SortOrder int       `json:"sort_order"`
		At        time.Time `json:"at"`
	}

	BlockDeleted struct {
		At time.Time `json:"at"`
	}

	BlockRestored struct {
		At time.Time `json:"at"`
	}

	// BlockDuplicated is recorded on the source block of a copy.
	BlockDuplicated struct {
		NewBlockID string    `json:"new_block_id"`
		At         time.Time `json:"at"`
	}
)

func (BlockCreated) EventType() string        { return "block.created" }
func (BlockContentUpdated) EventType() string { return "block.content_updated" }
func (BlockOrderChanged) EventType() string   { return "block.order_changed" }
func (BlockDeleted) EventType() string        { return "block.deleted" }
func (BlockRestored) EventType() string       { return "block.restored" }
func (BlockDuplicated) EventType() string     { return "block.duplicated" }

func (e *BlockCreated) Validate() error {
	switch {
	case e.PageID == "":
		return errors.New("page id is empty")
	case e.Component == "":
		return errors.New("component is empty")
	case e.SortOrder < 0:
		return fmt.Errorf("negative sort order %d", e.SortOrder)
	}
	return nil
}

func (e *BlockOrderChanged) Validate() error {
	if e.SortOrder < 0 {
		return fmt.Errorf("negative sort order %d", e.SortOrder)
	}
	return nil
}

func (e *BlockDuplicated) Validate() error {
	if e.NewBlockID == "" {
		return errors.New("new block id is empty")
	}
	return nil
}

// BlockEvents lists constructors for every block event.
func BlockEvents() []func() any {
	return []func() any{
		es.Event[BlockCreated](),
		es.Event[BlockContentUpdated](),
		es.Event[BlockOrderChanged](),
		es.Event[BlockDeleted](),
		es.Event[BlockRestored](),
		es.Event[BlockDuplicated](),
	}
}
