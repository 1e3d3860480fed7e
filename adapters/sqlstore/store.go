// Package sqlstore implements the event store, the snapshot store and the
// projection checkpoint store on database/sql for sqlite and postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
)

// appendLockKey is the postgres advisory lock serializing appends, so that
// global positions become visible in commit order.
const appendLockKey int64 = 0x70616765

const readAllExtendBatch = 64

type Config struct {
	DB      *sql.DB
	Dialect Dialect
	Log     *slog.Logger // Log for diagnostics (optional)
	// SkipMigrate leaves the schema untouched.
	SkipMigrate bool
}

// EventStore keeps events in the events table and the stream pointers in the
// aggregates table. Each Append runs in one transaction and moves the pointer
// with a compare-and-swap statement.
type EventStore struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
}

func NewEventStore(ctx context.Context, cfg Config) (*EventStore, error) {
	if cfg.DB == nil {
		return nil, errors.New("db is required")
	}
	if cfg.Dialect == "" {
		cfg.Dialect = SQLite
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if !cfg.SkipMigrate {
		if err := Migrate(ctx, cfg.DB, cfg.Dialect); err != nil {
			return nil, es.StorageError("migrate", err)
		}
	}
	return &EventStore{
		db:      cfg.DB,
		dialect: cfg.Dialect,
		log:     log.With(slog.String("store", "sql"), slog.String("dialect", string(cfg.Dialect))),
	}, nil
}

// Snapshotter returns a snapshot store on the same database.
func (s *EventStore) Snapshotter() *Snapshotter {
	return &Snapshotter{db: s.db, dialect: s.dialect}
}

// CpStore returns a checkpoint store on the same database.
func (s *EventStore) CpStore() *CpStore {
	return &CpStore{db: s.db, dialect: s.dialect}
}

const eventColumns = `seq, event_id, aggregate_type, aggregate_id, aggregate_version, event_type, event_version, occurred_at, metadata, data`

func (s *EventStore) Load(
	ctx context.Context,
	aggType string,
	aggID string,
	opts ...es.StoreLoadOption,
) ([]es.Envelope, error) {
	loadOpts := es.NewStoreLoadOptions(opts...)
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT `+eventColumns+` FROM events
		WHERE aggregate_type = ? AND aggregate_id = ? AND aggregate_version >= ?
		ORDER BY aggregate_version`),
		aggType, aggID, int64(loadOpts.StartVersion),
	)
	if err != nil {
		return nil, es.StorageError("load", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, es.StorageError("load", err)
	}
	return events, nil
}

func (s *EventStore) ReadAll(ctx context.Context, afterSeq uint64, limit int) ([]es.Envelope, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit <= 0 {
		rows, err = s.db.QueryContext(ctx, s.dialect.Rebind(
			`SELECT `+eventColumns+` FROM events WHERE seq > ? ORDER BY seq`),
			int64(afterSeq),
		)
	} else {
		rows, err = s.db.QueryContext(ctx, s.dialect.Rebind(
			`SELECT `+eventColumns+` FROM events WHERE seq > ? ORDER BY seq LIMIT ?`),
			int64(afterSeq), limit,
		)
	}
	if err != nil {
		return nil, es.StorageError("read all", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, es.StorageError("read all", err)
	}
	if limit <= 0 || len(events) < limit {
		return events, nil
	}

	// complete the commit the limit cut into
	for {
		last := events[len(events)-1]
		rows, err = s.db.QueryContext(ctx, s.dialect.Rebind(
			`SELECT `+eventColumns+` FROM events WHERE seq > ? ORDER BY seq LIMIT ?`),
			int64(last.Seq), readAllExtendBatch,
		)
		if err != nil {
			return nil, es.StorageError("read all", err)
		}
		more, err := scanEvents(rows)
		if err != nil {
			return nil, es.StorageError("read all", err)
		}
		n := 0
		for n < len(more) && es.SameCommit(events[len(events)-1], more[n]) {
			events = append(events, more[n])
			n++
		}
		if n < readAllExtendBatch {
			return events, nil
		}
	}
}

func (s *EventStore) Version(ctx context.Context, aggType, aggID string) (es.Version, error) {
	v, err := queryVersion(ctx, s.db, s.dialect, aggType, aggID)
	if err != nil {
		return 0, es.StorageError("version", err)
	}
	return v, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryVersion(ctx context.Context, q queryer, dialect Dialect, aggType, aggID string) (es.Version, error) {
	var v uint64
	err := q.QueryRowContext(ctx, dialect.Rebind(
		`SELECT version FROM aggregates WHERE aggregate_type = ? AND aggregate_id = ?`),
		aggType, aggID,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return es.Version(v), nil
}

func (s *EventStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expectedVersion es.Version,
	events []es.Envelope,
) (*es.StoreAppendResult, error) {
	if err := es.ValidateBatch(aggType, aggID, expectedVersion, events); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, es.StorageError("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.dialect == Postgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
			return nil, es.StorageError("lock", err)
		}
	}

	newVersion := expectedVersion.Add(len(events))
	swapped, err := s.swapPointer(ctx, tx, aggType, aggID, expectedVersion, newVersion)
	if err != nil {
		return nil, es.StorageError("swap pointer", err)
	}
	if !swapped {
		actual, err := queryVersion(ctx, tx, s.dialect, aggType, aggID)
		if err != nil {
			return nil, es.StorageError("version", err)
		}
		return nil, &es.ConflictError{AggType: aggType, AggID: aggID, Expected: expectedVersion, Actual: actual}
	}

	insert := s.dialect.Rebind(`INSERT INTO events (
		event_id, aggregate_type, aggregate_id, aggregate_version, event_type, event_version, occurred_at, metadata, data
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING seq`)

	var lastSeq uint64
	for _, e := range events {
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, err
		}
		err = tx.QueryRowContext(ctx, insert,
			e.ID,
			aggType,
			aggID,
			int64(e.Version),
			e.Type,
			e.EventVersion,
			s.dialect.Time(e.OccurredAt),
			jsonText(meta),
			jsonText(e.Data),
		).Scan(&lastSeq)
		if err != nil {
			return nil, es.StorageError(fmt.Sprintf("insert event %s", e.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, es.StorageError("commit", err)
	}

	s.log.Debug(
		"append",
		slog.Group(
			"agg",
			slog.String("type", aggType),
			slog.String("id", aggID),
		),
		newVersion.SlogAttr(),
		slog.Uint64("last_seq", lastSeq),
		slog.Int("num_events", len(events)),
	)

	return &es.StoreAppendResult{LastSeq: lastSeq, Version: newVersion}, nil
}

// swapPointer moves the stream pointer from expected to next. It reports
// false when the pointer did not hold expected.
func (s *EventStore) swapPointer(ctx context.Context, tx *sql.Tx, aggType, aggID string, expected, next es.Version) (bool, error) {
	now := s.dialect.Time(time.Now())
	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = tx.ExecContext(ctx, s.dialect.Rebind(
			`INSERT INTO aggregates (aggregate_type, aggregate_id, version, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (aggregate_type, aggregate_id) DO NOTHING`),
			aggType, aggID, int64(next), now,
		)
	} else {
		res, err = tx.ExecContext(ctx, s.dialect.Rebind(
			`UPDATE aggregates SET version = ?, updated_at = ?
			WHERE aggregate_type = ? AND aggregate_id = ? AND version = ?`),
			int64(next), now, aggType, aggID, int64(expected),
		)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanEvents(rows *sql.Rows) ([]es.Envelope, error) {
	defer func() { _ = rows.Close() }()

	var out []es.Envelope
	for rows.Next() {
		var (
			e          es.Envelope
			version    uint64
			occurredAt Timestamp
			meta       []byte
			data       []byte
		)
		if err := rows.Scan(
			&e.Seq,
			&e.ID,
			&e.AggregateType,
			&e.AggregateID,
			&version,
			&e.Type,
			&e.EventVersion,
			&occurredAt,
			&meta,
			&data,
		); err != nil {
			return nil, err
		}
		e.Version = es.Version(version)
		e.OccurredAt = occurredAt.Time
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("event %s metadata: %w", e.ID, err)
			}
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

var _ es.EventStore = (*EventStore)(nil)
