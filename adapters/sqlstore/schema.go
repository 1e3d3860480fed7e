package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		seq               INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id          TEXT    NOT NULL UNIQUE,
		aggregate_type    TEXT    NOT NULL,
		aggregate_id      TEXT    NOT NULL,
		aggregate_version INTEGER NOT NULL,
		event_type        TEXT    NOT NULL,
		event_version     INTEGER NOT NULL DEFAULT 1,
		occurred_at       TEXT    NOT NULL,
		metadata          TEXT    NOT NULL DEFAULT '{}',
		data              TEXT    NOT NULL,
		UNIQUE (aggregate_type, aggregate_id, aggregate_version)
	)`,
	`CREATE TABLE IF NOT EXISTS aggregates (
		aggregate_type TEXT    NOT NULL,
		aggregate_id   TEXT    NOT NULL,
		version        INTEGER NOT NULL,
		updated_at     TEXT    NOT NULL,
		PRIMARY KEY (aggregate_type, aggregate_id)
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		aggregate_type TEXT    NOT NULL,
		aggregate_id   TEXT    NOT NULL,
		version        INTEGER NOT NULL,
		snapshot_id    TEXT    NOT NULL,
		stream_seq     INTEGER NOT NULL,
		schema_version INTEGER NOT NULL,
		encoding       TEXT    NOT NULL,
		state          BLOB    NOT NULL,
		created_at     TEXT    NOT NULL,
		UNIQUE (aggregate_type, aggregate_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS projections (
		projection_name TEXT    NOT NULL UNIQUE,
		last_position   INTEGER NOT NULL DEFAULT 0,
		last_event_id   TEXT    NOT NULL DEFAULT '',
		status          TEXT    NOT NULL,
		error           TEXT    NOT NULL DEFAULT '',
		updated_at      TEXT    NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		seq               BIGSERIAL   PRIMARY KEY,
		event_id          TEXT        NOT NULL UNIQUE,
		aggregate_type    TEXT        NOT NULL,
		aggregate_id      TEXT        NOT NULL,
		aggregate_version BIGINT      NOT NULL,
		event_type        TEXT        NOT NULL,
		event_version     INTEGER     NOT NULL DEFAULT 1,
		occurred_at       TIMESTAMPTZ NOT NULL,
		metadata          JSONB       NOT NULL DEFAULT '{}',
		data              JSONB       NOT NULL,
		UNIQUE (aggregate_type, aggregate_id, aggregate_version)
	)`,
	`CREATE TABLE IF NOT EXISTS aggregates (
		aggregate_type TEXT        NOT NULL,
		aggregate_id   TEXT        NOT NULL,
		version        BIGINT      NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (aggregate_type, aggregate_id)
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		aggregate_type TEXT        NOT NULL,
		aggregate_id   TEXT        NOT NULL,
		version        BIGINT      NOT NULL,
		snapshot_id    TEXT        NOT NULL,
		stream_seq     BIGINT      NOT NULL,
		schema_version INTEGER     NOT NULL,
		encoding       TEXT        NOT NULL,
		state          BYTEA       NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		UNIQUE (aggregate_type, aggregate_id, version)
	)`,
	`CREATE TABLE IF NOT EXISTS projections (
		projection_name TEXT        NOT NULL UNIQUE,
		last_position   BIGINT      NOT NULL DEFAULT 0,
		last_event_id   TEXT        NOT NULL DEFAULT '',
		status          TEXT        NOT NULL,
		error           TEXT        NOT NULL DEFAULT '',
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
}

// Schema returns the DDL statements of the event store tables.
func (d Dialect) Schema() []string {
	if d == Postgres {
		return postgresSchema
	}
	return sqliteSchema
}

// Migrate creates the event store tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	return Exec(ctx, db, dialect.Schema()...)
}

// Exec runs statements in order inside one transaction.
func Exec(ctx context.Context, db *sql.DB, statements ...string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit()
}
