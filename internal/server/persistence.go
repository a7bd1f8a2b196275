package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tabletop-server/internal/storage"
	"tabletop-server/internal/storage/memory"
	"tabletop-server/internal/storage/postgres"
	"tabletop-server/internal/storage/redis"
	"tabletop-server/internal/storage/sqlite"
	"tabletop-server/internal/tabletop"
)

// restoreLimit caps how many snapshots are loaded at startup.
const restoreLimit = 1000

var ErrSessionNotFound = errors.New("session not found")

// OpenStore opens the snapshot backend selected by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg Config) (storage.Store, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		return sqlite.Open(cfg.DBPath)
	case "postgres":
		return postgres.Open(ctx, cfg.DatabaseURL)
	case "redis":
		return redis.Dial(ctx, cfg.RedisAddr, cfg.RedisKeyPrefix)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// PersistenceManager moves session snapshots between the live session store
// and the storage backend.
type PersistenceManager struct {
	store    storage.Store
	sessions *tabletop.Store
	logger   *slog.Logger

	mu    sync.Mutex
	saved map[string]time.Time // sessionID → UpdatedAt of the last stored snapshot
}

func NewPersistenceManager(store storage.Store, sessions *tabletop.Store, logger *slog.Logger) *PersistenceManager {
	return &PersistenceManager{
		store:    store,
		sessions: sessions,
		logger:   logger,
		saved:    make(map[string]time.Time),
	}
}

// snapshot serializes a live session under its lock.
func (pm *PersistenceManager) snapshot(id string) (data []byte, updated time.Time, err error) {
	found := pm.sessions.View(id, func(sess *tabletop.Session) {
		data, err = sess.Snapshot()
		updated = sess.UpdatedAt
	})
	if !found {
		return nil, time.Time{}, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return data, updated, err
}

// SaveSnapshot stores a snapshot taken by the caller. updated is the
// session's UpdatedAt at snapshot time.
func (pm *PersistenceManager) SaveSnapshot(ctx context.Context, id string, data []byte, updated time.Time) (storage.Record, error) {
	rec, err := pm.store.Save(ctx, id, data)
	if err != nil {
		return storage.Record{}, fmt.Errorf("failed to save session %s: %w", id, err)
	}

	pm.mu.Lock()
	if updated.After(pm.saved[id]) {
		pm.saved[id] = updated
	}
	pm.mu.Unlock()
	return rec, nil
}

// SaveSession snapshots and stores one live session.
func (pm *PersistenceManager) SaveSession(ctx context.Context, id string) (storage.Record, error) {
	data, updated, err := pm.snapshot(id)
	if err != nil {
		return storage.Record{}, err
	}
	return pm.SaveSnapshot(ctx, id, data, updated)
}

// SaveAll stores every live session.
func (pm *PersistenceManager) SaveAll(ctx context.Context) (int, error) {
	return pm.saveWhere(ctx, func(string, time.Time) bool { return true })
}

// SaveChanged stores the sessions modified since their last stored snapshot.
func (pm *PersistenceManager) SaveChanged(ctx context.Context) (int, error) {
	return pm.saveWhere(ctx, func(id string, updated time.Time) bool {
		pm.mu.Lock()
		defer pm.mu.Unlock()
		return updated.After(pm.saved[id])
	})
}

func (pm *PersistenceManager) saveWhere(ctx context.Context, want func(id string, updated time.Time) bool) (int, error) {
	var errs []error
	saved := 0
	for _, id := range pm.sessions.IDs() {
		data, updated, err := pm.snapshot(id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !want(id, updated) {
			continue
		}
		if _, err := pm.SaveSnapshot(ctx, id, data, updated); err != nil {
			errs = append(errs, err)
			continue
		}
		saved++
	}
	return saved, errors.Join(errs...)
}

// LoadSession reads and decodes one stored snapshot without touching the
// live store.
func (pm *PersistenceManager) LoadSession(ctx context.Context, id string) (*tabletop.Session, error) {
	rec, err := pm.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	sess, err := tabletop.RestoreSession(rec.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session %s: %w", id, err)
	}
	return sess, nil
}

// RestoreAll loads stored snapshots into the live store. Corrupt records
// are logged and skipped.
func (pm *PersistenceManager) RestoreAll(ctx context.Context) (int, error) {
	recs, err := pm.store.List(ctx, restoreLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	restored := 0
	for _, rec := range recs {
		sess, err := tabletop.RestoreSession(rec.Data)
		if err != nil {
			pm.logger.Warn("skipping unreadable session snapshot",
				slog.String("session", rec.ID),
				slog.Int64("version", rec.Version),
				slog.String("error", err.Error()))
			continue
		}
		if sess.ID != rec.ID {
			pm.logger.Warn("snapshot id does not match its key",
				slog.String("session", rec.ID),
				slog.String("snapshot_id", sess.ID))
			sess.ID = rec.ID
		}
		pm.sessions.Put(sess)

		pm.mu.Lock()
		pm.saved[sess.ID] = sess.UpdatedAt
		pm.mu.Unlock()
		restored++
	}
	return restored, nil
}

func (pm *PersistenceManager) List(ctx context.Context, limit int) ([]storage.Record, error) {
	return pm.store.List(ctx, limit)
}

// Delete removes the stored snapshot. The live session, if any, is kept.
func (pm *PersistenceManager) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := pm.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	pm.mu.Lock()
	delete(pm.saved, id)
	pm.mu.Unlock()
	return deleted, nil
}

func (pm *PersistenceManager) Ping(ctx context.Context) error {
	return pm.store.Ping(ctx)
}

func (pm *PersistenceManager) Close() error {
	return pm.store.Close()
}
