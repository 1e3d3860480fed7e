package estests

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/core/es/estests/domain"
)

func TestRegistry_EncodeDecode(t *testing.T) {
	reg := es.NewRegistry()
	new(domain.Counter).Register(reg)

	require.Equal(t, []string{"counter.closed", "counter.created", "counter.incremented", "counter.reset"}, reg.Types())

	typ, v, data, err := reg.Encode(&domain.Incremented{By: 3})
	require.NoError(t, err)
	require.Equal(t, "counter.incremented", typ)
	require.Equal(t, 2, v)

	ev, err := reg.Decode(es.Envelope{Type: typ, EventVersion: v, Data: data})
	require.NoError(t, err)
	require.Equal(t, &domain.Incremented{By: 3}, ev)
}

func TestRegistry_Upcast(t *testing.T) {
	reg := es.NewRegistry()
	new(domain.Counter).Register(reg)

	ev, err := reg.Decode(es.Envelope{
		Type:         "counter.incremented",
		EventVersion: 1,
		Data:         json.RawMessage(`{"inc":4}`),
	})
	require.NoError(t, err)
	require.Equal(t, &domain.Incremented{By: 4}, ev)

	// a missing schema version means version 1
	ev, err = reg.Decode(es.Envelope{Type: "counter.incremented", Data: json.RawMessage(`{"inc":2}`)})
	require.NoError(t, err)
	require.Equal(t, &domain.Incremented{By: 2}, ev)

	_, err = reg.Decode(es.Envelope{Type: "counter.incremented", EventVersion: 3, Data: json.RawMessage(`{}`)})
	require.Error(t, err)
}

func TestRegistry_Unknown(t *testing.T) {
	reg := es.NewRegistry()
	_, err := reg.Decode(es.Envelope{Type: "nope"})
	require.ErrorIs(t, err, es.ErrUnknownEventType)

	_, _, _, err = reg.Encode(&domain.Closed{})
	require.ErrorIs(t, err, es.ErrUnknownEventType)
	require.False(t, reg.Has("counter.closed"))
}

type plainEvent struct{ N int }

func TestEventTypeOf(t *testing.T) {
	require.Equal(t, "counter.reset", es.EventTypeOf(&domain.ResetDone{}))
	require.Equal(t, "github.com/Truonghai2/BaultPHP-sub001/core/es/estests.plainEvent", es.EventTypeOf(&plainEvent{}))
	require.Equal(t, 1, es.EventVersionOf(&plainEvent{}))
	require.Equal(t, 2, es.EventVersionOf(&domain.Incremented{}))
}

func TestReplay_UpcastsLegacyPayloads(t *testing.T) {
	te, repo := newCounterRepo(t)
	createCounter(t, repo, "legacy")

	// write a v1 payload directly
	_, err := te.Store().Append(t.Context(), domain.AggType, "legacy", 1, []es.Envelope{{
		ID:            "legacy-1",
		Version:       2,
		AggregateType: domain.AggType,
		AggregateID:   "legacy",
		Type:          "counter.incremented",
		EventVersion:  1,
		OccurredAt:    t0,
		Data:          json.RawMessage(`{"inc":6}`),
	}})
	require.NoError(t, err)

	a, err := repo.GetByID(t.Context(), "legacy")
	require.NoError(t, err)
	require.Equal(t, 6, a.Count())
}

func TestApply_UnknownEvent(t *testing.T) {
	a := domain.NewCounter("x")
	require.ErrorIs(t, a.Apply(&plainEvent{}), es.ErrUnknownEventType)
}
