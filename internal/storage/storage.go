// Package storage defines the durable snapshot store behind explicit session
// saves. Each record holds one serialized session keyed by session id, with a
// version counter that starts at 1 and increments on every save.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load when no record exists for the id.
var ErrNotFound = errors.New("storage: record not found")

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 100

// Record is one stored snapshot.
type Record struct {
	ID        string    `json:"id"`
	Data      []byte    `json:"-"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists session snapshots.
type Store interface {
	// Save writes data for id and returns the stored record with its new version.
	Save(ctx context.Context, id string, data []byte) (Record, error)
	// Load returns the record for id or ErrNotFound.
	Load(ctx context.Context, id string) (Record, error)
	// Delete removes the record and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// List returns up to limit records, most recently updated first.
	List(ctx context.Context, limit int) ([]Record, error)
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// NormalizeLimit applies DefaultListLimit to non-positive limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
