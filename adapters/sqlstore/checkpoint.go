package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
)

// CpStore keeps projection checkpoints in the projections table.
type CpStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewCpStore(db *sql.DB, dialect Dialect) *CpStore {
	return &CpStore{db: db, dialect: dialect}
}

func (s *CpStore) Get(ctx context.Context, name string) (es.Checkpoint, error) {
	var (
		cp        = es.Checkpoint{Name: name}
		status    string
		updatedAt Timestamp
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(
		`SELECT last_position, last_event_id, status, error, updated_at FROM projections WHERE projection_name = ?`),
		name,
	).Scan(&cp.LastSeq, &cp.LastEventID, &status, &cp.Error, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return es.Checkpoint{}, es.ErrCheckpointNotFound
	}
	if err != nil {
		return es.Checkpoint{}, es.StorageError("get checkpoint", err)
	}
	cp.Status = es.ProjectionStatus(status)
	cp.UpdatedAt = updatedAt.Time
	return cp, nil
}

func (s *CpStore) Set(ctx context.Context, cp es.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(
		`INSERT INTO projections (projection_name, last_position, last_event_id, status, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (projection_name) DO UPDATE SET
			last_position = excluded.last_position,
			last_event_id = excluded.last_event_id,
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at`),
		cp.Name,
		int64(cp.LastSeq),
		cp.LastEventID,
		string(cp.Status),
		cp.Error,
		s.dialect.Time(cp.UpdatedAt),
	)
	if err != nil {
		return es.StorageError("set checkpoint", err)
	}
	return nil
}

var _ es.CpStore = (*CpStore)(nil)
