// Package memory provides an in-process storage.Store, used in tests and
// when STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tabletop-server/internal/storage"
)

type Store struct {
	mu      sync.RWMutex
	records map[string]storage.Record
	now     func() time.Time
}

func New() *Store {
	return &Store{
		records: make(map[string]storage.Record),
		now:     time.Now,
	}
}

func (s *Store) Save(_ context.Context, id string, data []byte) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := storage.Record{
		ID:        id,
		Data:      append([]byte(nil), data...),
		Version:   s.records[id].Version + 1,
		UpdatedAt: s.now().UTC(),
	}
	s.records[id] = rec
	return copyRecord(rec), nil
}

func (s *Store) Load(_ context.Context, id string) (storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.records[id]
	delete(s.records, id)
	return ok, nil
}

func (s *Store) List(_ context.Context, limit int) ([]storage.Record, error) {
	s.mu.RLock()
	out := make([]storage.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, copyRecord(rec))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit = storage.NormalizeLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func copyRecord(rec storage.Record) storage.Record {
	rec.Data = append([]byte(nil), rec.Data...)
	return rec
}
