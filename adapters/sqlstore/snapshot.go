package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
)

// Snapshotter keeps one row per stream version in the snapshots table.
type Snapshotter struct {
	db      *sql.DB
	dialect Dialect
}

func NewSnapshotter(db *sql.DB, dialect Dialect) *Snapshotter {
	return &Snapshotter{db: db, dialect: dialect}
}

// SaveSnapshot stores snapshot. A snapshot of an already captured version
// is ignored.
func (s *Snapshotter) SaveSnapshot(ctx context.Context, snapshot *es.Snapshot) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO snapshots (
			aggregate_type, aggregate_id, version, snapshot_id, stream_seq, schema_version, encoding, state, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_type, aggregate_id, version) DO NOTHING`),
		snapshot.ObjType,
		snapshot.ObjID,
		int64(snapshot.ObjVersion),
		snapshot.SnapshotID,
		int64(snapshot.StreamSeq),
		snapshot.SchemaVersion,
		snapshot.Encoding,
		snapshot.Data,
		s.dialect.Time(snapshot.CreatedAt),
	)
	if err != nil {
		return es.StorageError("save snapshot", err)
	}
	return nil
}

func (s *Snapshotter) LoadSnapshot(ctx context.Context, objType, objID string, maxVersion es.Version) (*es.Snapshot, error) {
	var (
		snap      = es.Snapshot{ObjType: objType, ObjID: objID}
		version   uint64
		createdAt Timestamp
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT snapshot_id, version, stream_seq, schema_version, encoding, state, created_at
		FROM snapshots WHERE aggregate_type = ? AND aggregate_id = ? AND version <= ?
		ORDER BY version DESC LIMIT 1`),
		objType, objID, int64(maxVersion),
	).Scan(
		&snap.SnapshotID,
		&version,
		&snap.StreamSeq,
		&snap.SchemaVersion,
		&snap.Encoding,
		&snap.Data,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, es.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, es.StorageError("load snapshot", err)
	}
	snap.ObjVersion = es.Version(version)
	snap.CreatedAt = createdAt.Time
	return &snap, nil
}

var _ es.Snapshotter = (*Snapshotter)(nil)
