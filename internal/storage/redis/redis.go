// Package redis stores session snapshots in Redis. Each snapshot is a hash
// holding data, version and updated_at; a sorted set scored by update time
// indexes them for List.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tabletop-server/internal/storage"
)

// DefaultKeyPrefix is applied when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "tabletop:sessions:"

// Config contains configuration options for the Redis store.
type Config struct {
	// Client is the Redis client instance.
	Client redis.UniversalClient

	// KeyPrefix is the prefix for all keys.
	KeyPrefix string
}

type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

// New wraps an existing client.
func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Store{client: cfg.Client, keyPrefix: cfg.KeyPrefix}, nil
}

// Dial connects to addr and verifies the server answers.
func Dial(ctx context.Context, addr, keyPrefix string) (*Store, error) {
	cl := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	if err := cl.Ping(ctx).Err(); err != nil {
		cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(Config{Client: cl, KeyPrefix: keyPrefix})
}

func (s *Store) dataKey(id string) string { return s.keyPrefix + "data:" + id }
func (s *Store) indexKey() string        { return s.keyPrefix + "index" }

func (s *Store) Save(ctx context.Context, id string, data []byte) (storage.Record, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	key := s.dataKey(id)

	var version *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		version = pipe.HIncrBy(ctx, key, "version", 1)
		pipe.HSet(ctx, key, "data", data, "updated_at", now.UnixMilli())
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(now.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return storage.Record{}, fmt.Errorf("save session %s: %w", id, err)
	}
	return storage.Record{ID: id, Data: data, Version: version.Val(), UpdatedAt: now}, nil
}

func (s *Store) Load(ctx context.Context, id string) (storage.Record, error) {
	fields, err := s.client.HGetAll(ctx, s.dataKey(id)).Result()
	if err != nil {
		return storage.Record{}, fmt.Errorf("load session %s: %w", id, err)
	}
	if len(fields) == 0 {
		return storage.Record{}, storage.ErrNotFound
	}
	return decodeRecord(id, fields)
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.dataKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete session %s: %w", id, err)
	}
	return del.Val() > 0, nil
}

func (s *Store) List(ctx context.Context, limit int) ([]storage.Record, error) {
	limit = storage.NormalizeLimit(limit)
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.dataKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]storage.Record, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRecord(id, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func decodeRecord(id string, fields map[string]string) (storage.Record, error) {
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return storage.Record{}, fmt.Errorf("session %s: bad version %q: %w", id, fields["version"], err)
	}
	updatedMs, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return storage.Record{}, fmt.Errorf("session %s: bad updated_at %q: %w", id, fields["updated_at"], err)
	}
	return storage.Record{
		ID:        id,
		Data:      []byte(fields["data"]),
		Version:   version,
		UpdatedAt: time.UnixMilli(updatedMs).UTC(),
	}, nil
}
