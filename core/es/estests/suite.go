// Package estests holds conformance suites shared by every EventStore,
// Snapshotter and CpStore implementation, plus the tests of the core itself.
package estests

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
)

// StoreFactory returns a new, empty store.
type StoreFactory func(t *testing.T) es.EventStore

// NewEnvelopes builds n envelopes following version after.
func NewEnvelopes(aggType, aggID string, after es.Version, n int) []es.Envelope {
	out := make([]es.Envelope, n)
	for i := range out {
		v := after + es.Version(i+1)
		out[i] = es.Envelope{
			ID:            uuid.NewString(),
			Version:       v,
			AggregateType: aggType,
			AggregateID:   aggID,
			Type:          "test.happened",
			EventVersion:  1,
			OccurredAt:    time.Now().UTC().Truncate(time.Microsecond),
			Metadata:      es.Metadata{"n": fmt.Sprint(v)},
			Data:          json.RawMessage(fmt.Sprintf(`{"n":%d}`, v)),
		}
	}
	return out
}

// RunStoreSuite checks the EventStore contract against stores from newStore.
func RunStoreSuite(t *testing.T, newStore StoreFactory) {
	t.Run("unknown stream is empty", func(t *testing.T) {
		s := newStore(t)
		events, err := s.Load(t.Context(), "thing", "missing")
		require.NoError(t, err)
		require.Empty(t, events)

		v, err := s.Version(t.Context(), "thing", "missing")
		require.NoError(t, err)
		require.Equal(t, es.Version(0), v)
	})

	t.Run("append and load", func(t *testing.T) {
		s := newStore(t)
		id := uuid.NewString()

		res, err := s.Append(t.Context(), "thing", id, 0, NewEnvelopes("thing", id, 0, 2))
		require.NoError(t, err)
		require.Equal(t, es.Version(2), res.Version)
		require.NotZero(t, res.LastSeq)

		res, err = s.Append(t.Context(), "thing", id, 2, NewEnvelopes("thing", id, 2, 1))
		require.NoError(t, err)
		require.Equal(t, es.Version(3), res.Version)

		events, err := s.Load(t.Context(), "thing", id)
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, e := range events {
			require.Equal(t, es.Version(i+1), e.Version)
			require.Equal(t, "thing", e.AggregateType)
			require.Equal(t, id, e.AggregateID)
			require.Equal(t, 1, e.EventVersion)
			require.Equal(t, fmt.Sprint(i+1), e.Metadata["n"])
			require.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i+1), string(e.Data))
			require.NotZero(t, e.Seq)
		}
		require.Equal(t, res.LastSeq, events[2].Seq)

		tail, err := s.Load(t.Context(), "thing", id, es.WithStartAtVersion(3))
		require.NoError(t, err)
		require.Len(t, tail, 1)
		require.Equal(t, es.Version(3), tail[0].Version)

		v, err := s.Version(t.Context(), "thing", id)
		require.NoError(t, err)
		require.Equal(t, es.Version(3), v)
	})

	t.Run("stale version conflicts and appends nothing", func(t *testing.T) {
		s := newStore(t)
		id := uuid.NewString()
		_, err := s.Append(t.Context(), "thing", id, 0, NewEnvelopes("thing", id, 0, 2))
		require.NoError(t, err)

		_, err = s.Append(t.Context(), "thing", id, 1, NewEnvelopes("thing", id, 1, 1))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)
		var ce *es.ConflictError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, es.Version(1), ce.Expected)
		require.Equal(t, es.Version(2), ce.Actual)

		_, err = s.Append(t.Context(), "thing", id, 0, NewEnvelopes("thing", id, 0, 1))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)

		events, err := s.Load(t.Context(), "thing", id)
		require.NoError(t, err)
		require.Len(t, events, 2)
	})

	t.Run("rejects inconsistent batches", func(t *testing.T) {
		s := newStore(t)
		id := uuid.NewString()

		_, err := s.Append(t.Context(), "thing", id, 0, nil)
		require.ErrorIs(t, err, es.ErrStoreNoEvents)

		gap := NewEnvelopes("thing", id, 0, 2)
		gap[1].Version = 3
		_, err = s.Append(t.Context(), "thing", id, 0, gap)
		require.Error(t, err)

		foreign := NewEnvelopes("other", id, 0, 1)
		_, err = s.Append(t.Context(), "thing", id, 0, foreign)
		require.Error(t, err)

		events, err := s.Load(t.Context(), "thing", id)
		require.NoError(t, err)
		require.Empty(t, events)
	})

	t.Run("exactly one concurrent writer wins", func(t *testing.T) {
		s := newStore(t)
		id := uuid.NewString()
		_, err := s.Append(t.Context(), "thing", id, 0, NewEnvelopes("thing", id, 0, 1))
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Append(t.Context(), "thing", id, 1, NewEnvelopes("thing", id, 1, 2))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case es.IsConflict(err):
					conflicts++
				default:
					assert.NoError(t, err)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, wins)
		require.Equal(t, writers-1, conflicts)

		events, err := s.Load(t.Context(), "thing", id)
		require.NoError(t, err)
		require.Len(t, events, 3)
	})

	t.Run("read all in global order without splitting commits", func(t *testing.T) {
		s := newStore(t)
		a, b := uuid.NewString(), uuid.NewString()

		_, err := s.Append(t.Context(), "thing", a, 0, NewEnvelopes("thing", a, 0, 3))
		require.NoError(t, err)
		resB, err := s.Append(t.Context(), "thing", b, 0, NewEnvelopes("thing", b, 0, 1))
		require.NoError(t, err)
		_, err = s.Append(t.Context(), "thing", a, 3, NewEnvelopes("thing", a, 3, 1))
		require.NoError(t, err)

		all, err := s.ReadAll(t.Context(), 0, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i := 1; i < len(all); i++ {
			require.GreaterOrEqual(t, all[i].Seq, all[i-1].Seq)
		}
		require.Equal(t, a, all[0].AggregateID)
		require.Equal(t, b, all[3].AggregateID)
		require.Equal(t, es.Version(4), all[4].Version)

		first, err := s.ReadAll(t.Context(), 0, 1)
		require.NoError(t, err)
		require.Len(t, first, 3, "a commit is never split")

		rest, err := s.ReadAll(t.Context(), first[2].Seq, 10)
		require.NoError(t, err)
		require.Len(t, rest, 2)
		require.Equal(t, resB.LastSeq, rest[0].Seq)

		none, err := s.ReadAll(t.Context(), all[4].Seq, 10)
		require.NoError(t, err)
		require.Empty(t, none)
	})
}

// SnapshotterFactory returns a new, empty snapshotter.
type SnapshotterFactory func(t *testing.T) es.Snapshotter

func saveSnapshots(t *testing.T, s es.Snapshotter, id string, versions ...es.Version) {
	t.Helper()
	for _, v := range versions {
		require.NoError(t, s.SaveSnapshot(t.Context(), &es.Snapshot{
			SnapshotID:    uuid.NewString(),
			ObjType:       "thing",
			ObjID:         id,
			ObjVersion:    v,
			StreamSeq:     uint64(v) * 2,
			CreatedAt:     time.Now().UTC(),
			SchemaVersion: 1,
			Encoding:      es.SnapshotEncodingJSON,
			Data:          []byte(fmt.Sprintf(`{"v":%d}`, v)),
		}))
	}
}

func RunSnapshotterSuite(t *testing.T, newSnapshotter SnapshotterFactory) {
	t.Run("not found", func(t *testing.T) {
		s := newSnapshotter(t)
		_, err := s.LoadSnapshot(t.Context(), "thing", uuid.NewString(), 100)
		require.ErrorIs(t, err, es.ErrSnapshotNotFound)
	})

	t.Run("latest wins", func(t *testing.T) {
		s := newSnapshotter(t)
		id := uuid.NewString()
		saveSnapshots(t, s, id, 5, 10, 7)

		got, err := s.LoadSnapshot(t.Context(), "thing", id, 100)
		require.NoError(t, err)
		require.Equal(t, es.Version(10), got.ObjVersion)
		require.Equal(t, uint64(20), got.StreamSeq)
		require.JSONEq(t, `{"v":10}`, string(got.Data))

		got, err = s.LoadSnapshot(t.Context(), "thing", id, 10)
		require.NoError(t, err)
		require.Equal(t, es.Version(10), got.ObjVersion)
	})

	t.Run("nothing at or below max version", func(t *testing.T) {
		s := newSnapshotter(t)
		id := uuid.NewString()
		saveSnapshots(t, s, id, 5, 10)

		_, err := s.LoadSnapshot(t.Context(), "thing", id, 4)
		require.ErrorIs(t, err, es.ErrSnapshotNotFound)
	})
}

// RunSnapshotHistorySuite covers snapshotters that keep every version.
func RunSnapshotHistorySuite(t *testing.T, newSnapshotter SnapshotterFactory) {
	RunSnapshotterSuite(t, newSnapshotter)

	t.Run("highest at or below max version", func(t *testing.T) {
		s := newSnapshotter(t)
		id := uuid.NewString()
		saveSnapshots(t, s, id, 5, 10, 7)

		for limit, want := range map[es.Version]es.Version{5: 5, 6: 5, 7: 7, 9: 7, 10: 10} {
			got, err := s.LoadSnapshot(t.Context(), "thing", id, limit)
			require.NoError(t, err)
			require.Equal(t, want, got.ObjVersion, "limit %d", limit)
		}
	})

	t.Run("a version is captured once", func(t *testing.T) {
		s := newSnapshotter(t)
		id := uuid.NewString()
		saveSnapshots(t, s, id, 3)
		require.NoError(t, s.SaveSnapshot(t.Context(), &es.Snapshot{
			SnapshotID:    uuid.NewString(),
			ObjType:       "thing",
			ObjID:         id,
			ObjVersion:    3,
			StreamSeq:     99,
			CreatedAt:     time.Now().UTC(),
			SchemaVersion: 1,
			Encoding:      es.SnapshotEncodingJSON,
			Data:          []byte(`{"v":"again"}`),
		}))

		got, err := s.LoadSnapshot(t.Context(), "thing", id, 3)
		require.NoError(t, err)
		require.Equal(t, uint64(6), got.StreamSeq)
		require.JSONEq(t, `{"v":3}`, string(got.Data))
	})
}

// CpStoreFactory returns a new, empty checkpoint store.
type CpStoreFactory func(t *testing.T) es.CpStore

func RunCpStoreSuite(t *testing.T, newCpStore CpStoreFactory) {
	s := newCpStore(t)

	_, err := s.Get(t.Context(), "page_list")
	require.ErrorIs(t, err, es.ErrCheckpointNotFound)

	cp := es.Checkpoint{
		Name:        "page_list",
		LastSeq:     42,
		LastEventID: uuid.NewString(),
		Status:      es.ProjectionError,
		Error:       "boom",
		UpdatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.Set(t.Context(), cp))

	got, err := s.Get(t.Context(), "page_list")
	require.NoError(t, err)
	require.Equal(t, cp.LastSeq, got.LastSeq)
	require.Equal(t, cp.LastEventID, got.LastEventID)
	require.Equal(t, cp.Status, got.Status)
	require.Equal(t, cp.Error, got.Error)
	require.True(t, cp.UpdatedAt.Equal(got.UpdatedAt))

	cp.LastSeq, cp.Status, cp.Error = 43, es.ProjectionIdle, ""
	require.NoError(t, s.Set(t.Context(), cp))
	got, err = s.Get(t.Context(), "page_list")
	require.NoError(t, err)
	require.Equal(t, uint64(43), got.LastSeq)
	require.Equal(t, es.ProjectionIdle, got.Status)
}
