package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrSnapshotNotFound     = errors.New("snapshot not found")
	ErrSnapshotIncompatible = errors.New("snapshot incompatible")
	ErrNotSnapshottable     = errors.New("aggregate is not snapshottable")
)

const SnapshotEncodingJSON = "json"

type (
	// Snapshot is a serialized aggregate state at ObjVersion. Snapshots only
	// accelerate loading; the event stream stays authoritative.
	Snapshot struct {
		SnapshotID string `json:"snapshot_id"`

		ObjID      string  `json:"obj_id"`
		ObjType    string  `json:"obj_type"`
		ObjVersion Version `json:"obj_version"`

		StreamSeq uint64 `json:"stream_seq"` // global position of the last included event

		CreatedAt     time.Time `json:"created_at"`
		SchemaVersion int       `json:"schema_version"`
		Encoding      string    `json:"encoding"`
		Data          []byte    `json:"data"`
	}

	// Snapshottable aggregates can serialize and restore their state.
	// RestoreSnapshot must leave the aggregate unchanged when it fails.
	Snapshottable interface {
		Snapshot() (data []byte, err error)
		RestoreSnapshot(data []byte) error
	}

	// SnapshotSchemaVersioner is implemented by aggregates whose snapshot
	// layout is versioned. Snapshots with another schema version are ignored.
	SnapshotSchemaVersioner interface {
		SnapshotSchemaVersion() int
	}

	Snapshotter interface {
		SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
		// LoadSnapshot returns the snapshot with the highest ObjVersion not
		// above maxVersion, or ErrSnapshotNotFound.
		LoadSnapshot(ctx context.Context, objType, objID string, maxVersion Version) (*Snapshot, error)
	}

	// SnapshotPolicy decides after a save from version before to after
	// whether a snapshot should be taken.
	SnapshotPolicy func(before, after Version) bool
)

const DefaultSnapshotEvery = 50

// SnapshotEvery snapshots whenever a save crosses a multiple of n.
func SnapshotEvery(n uint64) SnapshotPolicy {
	if n == 0 {
		return NeverSnapshot
	}
	return func(before, after Version) bool {
		return after.Uint64()/n > before.Uint64()/n
	}
}

func NeverSnapshot(Version, Version) bool { return false }

func (s *Snapshot) logAttrs() slog.Attr {
	return slog.Group(
		"snapshot",
		slog.String("id", s.SnapshotID),
		slog.String("obj_type", s.ObjType),
		slog.String("obj_id", s.ObjID),
		s.ObjVersion.SlogAttrWithKey("obj_version"),
		slog.Uint64("seq", s.StreamSeq),
		slog.Int("size", len(s.Data)),
	)
}

func snapshotSchemaVersion(agg any) int {
	if v, ok := agg.(SnapshotSchemaVersioner); ok {
		return v.SnapshotSchemaVersion()
	}
	return 1
}

// CreateSnapshot serializes agg at its current version.
func CreateSnapshot(agg Aggregate) (*Snapshot, error) {
	s, ok := agg.(Snapshottable)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotSnapshottable, agg.GetAggType())
	}
	data, err := s.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	return &Snapshot{
		SnapshotID:    gonanoid.Must(),
		StreamSeq:     agg.GetSeq(),
		ObjID:         agg.GetID(),
		ObjType:       agg.GetAggType(),
		ObjVersion:    agg.GetVersion(),
		CreatedAt:     time.Now().UTC(),
		Encoding:      SnapshotEncodingJSON,
		Data:          data,
		SchemaVersion: snapshotSchemaVersion(agg),
	}, nil
}

// RestoreSnapshot restores agg from snap. The snapshot must match the
// aggregate identity and schema version and must not be newer than
// streamVersion.
func RestoreSnapshot(agg Aggregate, snap *Snapshot, streamVersion Version) error {
	s, ok := agg.(Snapshottable)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotSnapshottable, agg.GetAggType())
	}
	switch {
	case snap.ObjType != agg.GetAggType() || snap.ObjID != agg.GetID():
		return fmt.Errorf("%w: identity %s/%s", ErrSnapshotIncompatible, snap.ObjType, snap.ObjID)
	case snap.ObjVersion > streamVersion:
		return fmt.Errorf("%w: version %d is ahead of stream version %d", ErrSnapshotIncompatible, snap.ObjVersion, streamVersion)
	case snap.SchemaVersion != snapshotSchemaVersion(agg):
		return fmt.Errorf("%w: schema version %d", ErrSnapshotIncompatible, snap.SchemaVersion)
	case snap.Encoding != "" && snap.Encoding != SnapshotEncodingJSON:
		return fmt.Errorf("%w: encoding %q", ErrSnapshotIncompatible, snap.Encoding)
	}
	if err := s.RestoreSnapshot(snap.Data); err != nil {
		return fmt.Errorf("%w: %w", ErrSnapshotIncompatible, err)
	}
	agg.setVersion(snap.ObjVersion)
	agg.setSeq(snap.StreamSeq)
	return nil
}

// === In-Memory Snapshotter ===

// InMemorySnapshotter keeps every snapshot, one per stream version.
type InMemorySnapshotter struct {
	mu        sync.Mutex
	snapshots map[streamKey][]*Snapshot
}

func NewInMemorySnapshotter() *InMemorySnapshotter {
	return &InMemorySnapshotter{snapshots: map[streamKey][]*Snapshot{}}
}

func (i *InMemorySnapshotter) SaveSnapshot(_ context.Context, snapshot *Snapshot) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	k := streamKey{snapshot.ObjType, snapshot.ObjID}
	for _, s := range i.snapshots[k] {
		if s.ObjVersion == snapshot.ObjVersion {
			return nil
		}
	}
	i.snapshots[k] = append(i.snapshots[k], snapshot)
	return nil
}

func (i *InMemorySnapshotter) LoadSnapshot(_ context.Context, objType, objID string, maxVersion Version) (*Snapshot, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var latest *Snapshot
	for _, s := range i.snapshots[streamKey{objType, objID}] {
		if s.ObjVersion <= maxVersion && (latest == nil || s.ObjVersion > latest.ObjVersion) {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrSnapshotNotFound
	}
	return latest, nil
}

// Count returns how many snapshots were saved for the stream.
func (i *InMemorySnapshotter) Count(objType, objID string) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.snapshots[streamKey{objType, objID}])
}

var _ Snapshotter = &InMemorySnapshotter{}
