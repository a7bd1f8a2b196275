// Package postgres stores session snapshots in PostgreSQL through a pgx
// connection pool. Snapshot blobs are kept as JSONB.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tabletop-server/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	version BIGINT NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions (updated_at DESC);
`

type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and ensures the schema exists.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Save(ctx context.Context, id string, data []byte) (storage.Record, error) {
	const query = `
		INSERT INTO sessions (session_id, data, version, updated_at)
		VALUES ($1, $2::jsonb, 1, now())
		ON CONFLICT (session_id) DO UPDATE SET
			data = EXCLUDED.data,
			version = sessions.version + 1,
			updated_at = now()
		RETURNING version, updated_at`

	rec := storage.Record{ID: id, Data: data}
	if err := s.pool.QueryRow(ctx, query, id, string(data)).Scan(&rec.Version, &rec.UpdatedAt); err != nil {
		return storage.Record{}, fmt.Errorf("save session %s: %w", id, err)
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (s *Store) Load(ctx context.Context, id string) (storage.Record, error) {
	const query = `SELECT data::text, version, updated_at FROM sessions WHERE session_id = $1`

	rec := storage.Record{ID: id}
	var data string
	err := s.pool.QueryRow(ctx, query, id).Scan(&data, &rec.Version, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("load session %s: %w", id, err)
	}
	rec.Data = []byte(data)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]storage.Record, error) {
	const query = `
		SELECT session_id, data::text, version, updated_at FROM sessions
		ORDER BY updated_at DESC, session_id ASC
		LIMIT $1`

	rows, err := s.pool.Query(ctx, query, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var rec storage.Record
		var data string
		if err := rows.Scan(&rec.ID, &data, &rec.Version, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		rec.Data = []byte(data)
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
