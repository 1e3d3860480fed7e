package page

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/core/es/assert"
)

const BlockAggType = "page_block"

type (
	Block struct {
		es.BaseAggregate
		state BlockState
	}

	BlockState struct {
		Created        bool       `json:"created"`
		PageID         string     `json:"page_id"`
		Component      string     `json:"component"`
		SortOrder      int        `json:"sort_order"`
		Content        string     `json:"content,omitempty"`
		Deleted        bool       `json:"deleted"`
		DeletedAt      *time.Time `json:"deleted_at,omitempty"`
		DuplicatedFrom string     `json:"duplicated_from,omitempty"`
		Copies         []string   `json:"copies,omitempty"`
		CreatedAt      time.Time  `json:"created_at"`
		UpdatedAt      time.Time  `json:"updated_at"`
	}
)

func (a *Block) GetAggType() string { return BlockAggType }
func (a *Block) Register(r es.Registrar) {
	es.RegisterEvents(r, BlockEvents()...)
}

func (a *Block) Apply(event any) error {
	switch e := event.(type) {
	case *BlockCreated:
		a.state.Created = true
		a.state.PageID = e.PageID
		a.state.Component = e.Component
		a.state.SortOrder = e.SortOrder
		a.state.Content = e.Content
		a.state.DuplicatedFrom = e.DuplicatedFrom
		a.state.CreatedAt = e.At
		a.state.UpdatedAt = e.At
	case *BlockContentUpdated:
		a.state.Content = e.Content
		a.state.UpdatedAt = e.At
	case *BlockOrderChanged:
		a.state.SortOrder = e.SortOrder
		a.state.UpdatedAt = e.At
	case *BlockDeleted:
		at := e.At
		a.state.Deleted = true
		a.state.DeletedAt = &at
		a.state.UpdatedAt = e.At
	case *BlockRestored:
		a.state.Deleted = false
		a.state.DeletedAt = nil
		a.state.UpdatedAt = e.At
	case *BlockDuplicated:
		a.state.Copies = append(a.state.Copies, e.NewBlockID)
	default:
		return es.UnknownEvent(a, event)
	}
	return nil
}

func (a *Block) Snapshot() ([]byte, error) { return json.Marshal(a.state) }
func (a *Block) RestoreSnapshot(data []byte) error {
	var s BlockState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	a.state = s
	return nil
}

var _ es.Snapshottable = &Block{}

// === Commands ===

func (a *Block) Create(pageID, component string, sortOrder int, content string, at time.Time) error {
	if err := es.Guard(a, "create",
		assert.False(a.state.Created, "already created"),
		assert.NotEmpty(pageID, "page id is required"),
		assert.NotEmpty(component, "component is required"),
		assert.True(sortOrder >= 0, "sort order must not be negative"),
	); err != nil {
		return err
	}
	return es.RaiseAndApply(a, &BlockCreated{
		PageID:    pageID,
		Component: component,
		SortOrder: sortOrder,
		Content:   content,
		At:        at,
	})
}

func (a *Block) mutable(op string, conds ...assert.Cond) error {
	return es.Guard(a, op, append([]assert.Cond{
		assert.True(a.state.Created, "not created"),
		assert.False(a.state.Deleted, "block is deleted"),
	}, conds...)...)
}

func (a *Block) UpdateContent(content string, at time.Time) error {
	if err := a.mutable("update content"); err != nil {
		return err
	}
	if content == a.state.Content {
		return nil
	}
	return es.RaiseAndApply(a, &BlockContentUpdated{Content: content, At: at})
}

func (a *Block) ChangeOrder(sortOrder int, at time.Time) error {
	if err := a.mutable("change order", assert.True(sortOrder >= 0, "sort order must not be negative")); err != nil {
		return err
	}
	if sortOrder == a.state.SortOrder {
		return nil
	}
	return es.RaiseAndApply(a, &BlockOrderChanged{SortOrder: sortOrder, At: at})
}

func (a *Block) Delete(at time.Time) error {
	if err := es.Guard(a, "delete", assert.True(a.state.Created, "not created")); err != nil {
		return err
	}
	if a.state.Deleted {
		return nil
	}
	return es.RaiseAndApply(a, &BlockDeleted{At: at})
}

func (a *Block) Restore(at time.Time) error {
	if err := es.Guard(a, "restore", assert.True(a.state.Created, "not created")); err != nil {
		return err
	}
	if !a.state.Deleted {
		return nil
	}
	return es.RaiseAndApply(a, &BlockRestored{At: at})
}

// CopyAs returns the new block newID, created with the same page, component
// and content one position after a. Nothing is recorded on a; see RecordCopy.
func (a *Block) CopyAs(newID string, at time.Time) (*Block, error) {
	if err := a.mutable("duplicate",
		assert.NotEmpty(newID, "new block id is required"),
		assert.True(newID != a.GetID(), "new block id equals source"),
	); err != nil {
		return nil, err
	}
	dup := NewBlock(newID)
	if err := es.RaiseAndApply(dup, &BlockCreated{
		PageID:         a.state.PageID,
		Component:      a.state.Component,
		SortOrder:      a.state.SortOrder + 1,
		Content:        a.state.Content,
		DuplicatedFrom: a.GetID(),
		At:             at,
	}); err != nil {
		return nil, err
	}
	return dup, nil
}

// RecordCopy records newID as a copy of a. Recording a known copy again is
// a no-op.
func (a *Block) RecordCopy(newID string, at time.Time) error {
	if err := a.mutable("duplicate",
		assert.NotEmpty(newID, "new block id is required"),
		assert.True(newID != a.GetID(), "new block id equals source"),
	); err != nil {
		return err
	}
	if slices.Contains(a.state.Copies, newID) {
		return nil
	}
	return es.RaiseAndApply(a, &BlockDuplicated{NewBlockID: newID, At: at})
}

// === Read ===

func (a *Block) Exists() bool      { return a.state.Created }
func (a *Block) PageID() string    { return a.state.PageID }
func (a *Block) IsDeleted() bool   { return a.state.Deleted }
func (a *Block) SortOrder() int    { return a.state.SortOrder }
func (a *Block) Content() string   { return a.state.Content }
func (a *Block) Component() string { return a.state.Component }

func (a *Block) State() BlockState {
	s := a.state
	s.Copies = append([]string(nil), a.state.Copies...)
	return s
}

func NewBlock(id string) *Block {
	a := &Block{}
	a.SetID(id)
	return a
}
