// Package domain holds a small counter aggregate used to exercise the
// event-sourcing core in tests.
package domain

import (
	"encoding/json"
	"time"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/core/es/assert"
)

const (
	AggType  = "test_counter"
	MaxValue = 24
)

type (
	Counter struct {
		es.BaseAggregate
		state counterState
	}

	counterState struct {
		Created    bool      `json:"created"`
		CreatedAt  time.Time `json:"created_at"`
		Value      int       `json:"value"`
		Increments int       `json:"increments"`
		Resets     int       `json:"resets"`
		Closed     bool      `json:"closed"`
	}
)

// === Events ===

type (
	Created struct {
		At time.Time `json:"at"`
	}

	// Incremented is at schema version 2; version 1 stored the amount as "inc".
	Incremented struct {
		By int `json:"by"`
	}

	ResetDone struct{}

	Closed struct{}
)

func (Created) EventType() string     { return "counter.created" }
func (Incremented) EventType() string { return "counter.incremented" }
func (Incremented) EventVersion() int { return 2 }
func (ResetDone) EventType() string   { return "counter.reset" }
func (Closed) EventType() string      { return "counter.closed" }

func UpcastIncrementedV1(data json.RawMessage) (json.RawMessage, error) {
	var v1 struct {
		Inc int `json:"inc"`
	}
	if err := json.Unmarshal(data, &v1); err != nil {
		return nil, err
	}
	return json.Marshal(Incremented{By: v1.Inc})
}

// === Aggregate ===

func (a *Counter) GetAggType() string { return AggType }
func (a *Counter) Register(r es.Registrar) {
	es.RegisterEvents(r,
		es.Event[Created](),
		es.Event[Incremented](),
		es.Event[ResetDone](),
		es.Event[Closed](),
	)
	r.Upcast(Incremented{}.EventType(), 1, UpcastIncrementedV1)
}

func (a *Counter) Apply(event any) error {
	switch e := event.(type) {
	case *Created:
		a.state.Created = true
		a.state.CreatedAt = e.At
	case *Incremented:
		a.state.Value += e.By
		a.state.Increments++
	case *ResetDone:
		a.state.Value = 0
		a.state.Resets++
	case *Closed:
		a.state.Closed = true
	default:
		return es.UnknownEvent(a, event)
	}
	return nil
}

func (a *Counter) Snapshot() ([]byte, error) { return json.Marshal(a.state) }
func (a *Counter) RestoreSnapshot(data []byte) error {
	var s counterState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	a.state = s
	return nil
}

var _ es.Snapshottable = &Counter{}

// === Commands ===

func (a *Counter) Create(at time.Time) error {
	if err := es.Guard(a, "create", assert.False(a.state.Created, "already created")); err != nil {
		return err
	}
	return es.RaiseAndApply(a, &Created{At: at})
}

func (a *Counter) Inc() error { return a.IncBy(1) }

func (a *Counter) IncBy(v int) error {
	if err := es.Guard(a, "increment",
		assert.True(a.state.Created, "not created"),
		assert.False(a.state.Closed, "closed"),
		assert.True(v > 0, "increment must be positive"),
		assert.True(a.state.Value+v <= MaxValue, "counter cannot exceed 24"),
	); err != nil {
		return err
	}
	return es.RaiseAndApply(a, &Incremented{By: v})
}

func (a *Counter) Reset() error {
	if err := es.Guard(a, "reset", assert.True(a.state.Created, "not created")); err != nil {
		return err
	}
	if a.state.Value == 0 {
		return nil
	}
	return es.RaiseAndApply(a, &ResetDone{})
}

func (a *Counter) Close() error {
	if err := es.Guard(a, "close", assert.True(a.state.Created, "not created")); err != nil {
		return err
	}
	if a.state.Closed {
		return nil
	}
	return es.RaiseAndApply(a, &Closed{})
}

// === Read ===

func (a *Counter) Count() int        { return a.state.Value }
func (a *Counter) Increments() int   { return a.state.Increments }
func (a *Counter) IsClosed() bool    { return a.state.Closed }
func (a *Counter) StateJSON() string { d, _ := json.Marshal(a.state); return string(d) }

func NewCounter(id string) *Counter {
	a := &Counter{}
	a.SetID(id)
	return a
}
