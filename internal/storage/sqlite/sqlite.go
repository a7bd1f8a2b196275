// Package sqlite stores session snapshots in a single SQLite file using the
// pure-Go modernc.org/sqlite driver. It is the default backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tabletop-server/internal/storage"
)

type Store struct {
	db *sql.DB
}

// Open prepares the database at path, creating the parent directory and the
// schema if needed. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Save(ctx context.Context, id string, data []byte) (storage.Record, error) {
	const query = `
		INSERT INTO sessions (session_id, data, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			data = excluded.data,
			version = sessions.version + 1,
			updated_at = excluded.updated_at
		RETURNING version, updated_at`

	rec := storage.Record{ID: id, Data: data}
	var updatedMs int64
	err := s.db.QueryRowContext(ctx, query, id, string(data), time.Now().UnixMilli()).Scan(&rec.Version, &updatedMs)
	if err != nil {
		return storage.Record{}, fmt.Errorf("save session %s: %w", id, err)
	}
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return rec, nil
}

func (s *Store) Load(ctx context.Context, id string) (storage.Record, error) {
	const query = `SELECT data, version, updated_at FROM sessions WHERE session_id = ?`

	rec := storage.Record{ID: id}
	var data string
	var updatedMs int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(&data, &rec.Version, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("load session %s: %w", id, err)
	}
	rec.Data = []byte(data)
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check delete result: %w", err)
	}
	return n > 0, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]storage.Record, error) {
	const query = `
		SELECT session_id, data, version, updated_at FROM sessions
		ORDER BY updated_at DESC, session_id ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var rec storage.Record
		var data string
		var updatedMs int64
		if err := rows.Scan(&rec.ID, &data, &rec.Version, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		rec.Data = []byte(data)
		rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
