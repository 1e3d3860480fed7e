package pagelist

import (
	"context"
	"database/sql"
	"math"
	"strings"

	"github.com/Truonghai2/BaultPHP-sub001/adapters/sqlstore"
	"github.com/Truonghai2/BaultPHP-sub001/core/es"
	"github.com/Truonghai2/BaultPHP-sub001/domain/page"
)

var (
	sqliteSchema = []string{
		`CREATE TABLE IF NOT EXISTS page_list (
			page_id      TEXT    PRIMARY KEY,
			name         TEXT    NOT NULL,
			slug         TEXT    NOT NULL,
			author_id    TEXT    NOT NULL,
			status       TEXT    NOT NULL,
			block_count  INTEGER NOT NULL DEFAULT 0,
			published_at TEXT,
			deleted_at   TEXT,
			created_at   TEXT    NOT NULL,
			updated_at   TEXT    NOT NULL,
			version      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS page_list_status_idx ON page_list (status, updated_at)`,
	}
	postgresSchema = []string{
		`CREATE TABLE IF NOT EXISTS page_list (
			page_id      TEXT        PRIMARY KEY,
			name         TEXT        NOT NULL,
			slug         TEXT        NOT NULL,
			author_id    TEXT        NOT NULL,
			status       TEXT        NOT NULL,
			block_count  INTEGER     NOT NULL DEFAULT 0,
			published_at TIMESTAMPTZ,
			deleted_at   TIMESTAMPTZ,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL,
			version      BIGINT      NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS page_list_status_idx ON page_list (status, updated_at)`,
	}
)

const rowColumns = `page_id, name, slug, author_id, status, block_count, published_at, deleted_at, created_at, updated_at, version`

// SQLStore keeps rows in the page_list table next to the event store.
type SQLStore struct {
	db      *sql.DB
	dialect sqlstore.Dialect
}

// NewSQLStore creates the page_list table if needed.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect sqlstore.Dialect) (*SQLStore, error) {
	schema := sqliteSchema
	if dialect == sqlstore.Postgres {
		schema = postgresSchema
	}
	if err := sqlstore.Exec(ctx, db, schema...); err != nil {
		return nil, err
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) Get(ctx context.Context, pageID string) (Row, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(
		`SELECT `+rowColumns+` FROM page_list WHERE page_id = ?`), pageID)
	if err != nil {
		return Row{}, err
	}
	out, err := scanRows(rows)
	if err != nil {
		return Row{}, err
	}
	if len(out) == 0 {
		return Row{}, ErrNotFound
	}
	return out[0], nil
}

func (s *SQLStore) Upsert(ctx context.Context, row Row) error {
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO page_list (`+rowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (page_id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			author_id = excluded.author_id,
			status = excluded.status,
			block_count = excluded.block_count,
			published_at = excluded.published_at,
			deleted_at = excluded.deleted_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			version = excluded.version
		WHERE page_list.version < excluded.version`),
		row.PageID,
		row.Name,
		row.Slug,
		row.AuthorID,
		string(row.Status),
		row.BlockCount,
		s.dialect.NullTime(row.PublishedAt),
		s.dialect.NullTime(row.DeletedAt),
		s.dialect.Time(row.CreatedAt),
		s.dialect.Time(row.UpdatedAt),
		int64(row.Version),
	)
	return err
}

func (s *SQLStore) List(ctx context.Context, f Filter) ([]Row, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.AuthorID != "" {
		where = append(where, "author_id = ?")
		args = append(args, f.AuthorID)
	}

	var q strings.Builder
	q.WriteString(`SELECT ` + rowColumns + ` FROM page_list`)
	if len(where) > 0 {
		q.WriteString(` WHERE ` + strings.Join(where, " AND "))
	}
	q.WriteString(` ORDER BY updated_at DESC, page_id`)
	limit := f.Limit
	if limit <= 0 && f.Offset > 0 {
		limit = math.MaxInt32
	}
	if limit > 0 {
		q.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}
	if f.Offset > 0 {
		q.WriteString(` OFFSET ?`)
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(q.String()), args...)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

func (s *SQLStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM page_list`)
	return err
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var (
			r                    Row
			status               string
			version              int64
			published, deleted   sqlstore.Timestamp
			createdAt, updatedAt sqlstore.Timestamp
		)
		if err := rows.Scan(
			&r.PageID,
			&r.Name,
			&r.Slug,
			&r.AuthorID,
			&status,
			&r.BlockCount,
			&published,
			&deleted,
			&createdAt,
			&updatedAt,
			&version,
		); err != nil {
			return nil, err
		}
		r.Status = page.Status(status)
		r.PublishedAt = published.Ptr()
		r.DeletedAt = deleted.Ptr()
		r.CreatedAt = createdAt.Time
		r.UpdatedAt = updatedAt.Time
		r.Version = es.Version(version)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ Store = (*SQLStore)(nil)
