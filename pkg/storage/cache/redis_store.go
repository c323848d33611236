package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"hopper/pkg/core"
	"hopper/pkg/storage"
	"hopper/pkg/types"

	"github.com/redis/go-redis/v9"
)

// CachedStore decorates a storage.Store with Redis. Several tracker
// processes sharing one repository (web server, CLI, hooks) keep two kinds
// of entries there, both safe forever since objects are immutable:
//
//	hopper:obj:<id>    -> object kind, answers Has and Kind
//	hopper:commit:<id> -> commit bytes, read by every history walk
type CachedStore struct {
	backend storage.Store
	client  *redis.Client
	ttl     time.Duration
}

type Config struct {
	RedisURL string        // redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // expiry of cache entries
}

// NewCachedStore parses the URL and fails fast when Redis is unreachable.
func NewCachedStore(backend storage.Store, cfg Config) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewWithClient(backend, client, cfg.TTL), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(backend storage.Store, client *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{backend: backend, client: client, ttl: ttl}
}

// Close releases the Redis connection pool.
func (s *CachedStore) Close() error { return s.client.Close() }

func (s *CachedStore) cacheKey(hash types.Hash) string {
	return "hopper:obj:" + string(hash)
}

func (s *CachedStore) commitKey(hash types.Hash) string {
	return "hopper:commit:" + string(hash)
}

// fill writes entries in the background so the caller is not blocked on Redis.
func (s *CachedStore) fill(pairs ...any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pipe := s.client.Pipeline()
		for i := 0; i+1 < len(pairs); i += 2 {
			pipe.Set(ctx, pairs[i].(string), pairs[i+1], s.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			slog.Debug("redis fill failed", slog.String("err", err.Error()))
		}
	}()
}

// Has checks Redis first. A positive entry never goes stale.
func (s *CachedStore) Has(ctx context.Context, hash types.Hash) (bool, error) {
	val, err := s.client.Exists(ctx, s.cacheKey(hash)).Result()
	if err != nil {
		// A broken cache degrades to direct lookups
		slog.Warn("redis lookup failed, falling back to object store", slog.String("err", err.Error()))
	} else if val > 0 {
		return true, nil
	}

	found, err := s.backend.Has(ctx, hash)
	if err != nil {
		return false, err
	}
	if found {
		// The kind is unknown here, so never clobber an entry that has one.
		// Kind treats the bare marker as a miss.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.client.SetNX(ctx, s.cacheKey(hash), "1", s.ttl)
		}()
	}
	return found, nil
}

// Kind reports the object's type, reading the object only on a miss.
// Prefix resolution asks this for every candidate sharing a prefix.
func (s *CachedStore) Kind(ctx context.Context, hash types.Hash) (core.ObjectType, error) {
	val, err := s.client.Get(ctx, s.cacheKey(hash)).Result()
	switch {
	case err == nil:
		switch kind := core.ObjectType(val); kind {
		case core.TypeBlob, core.TypeTree, core.TypeCommit:
			return kind, nil
		}
	case !errors.Is(err, redis.Nil):
		slog.Warn("redis lookup failed, falling back to object store", slog.String("err", err.Error()))
	}

	obj, err := s.Get(ctx, hash)
	if err != nil {
		return "", err
	}
	s.fill(s.cacheKey(hash), obj.Type().String())
	return obj.Type(), nil
}

// Put writes through to the backend and records the object afterwards.
func (s *CachedStore) Put(ctx context.Context, obj core.Object) error {
	exists, err := s.Has(ctx, obj.ID())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := s.backend.Put(ctx, obj); err != nil {
		return err
	}

	// Only after the backend write succeeded
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.cacheKey(obj.ID()), obj.Type().String(), s.ttl)
	if obj.Type() == core.TypeCommit {
		pipe.Set(ctx, s.commitKey(obj.ID()), obj.Bytes(), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("redis set failed", slog.String("hash", obj.ID().String()), slog.String("err", err.Error()))
	}
	return nil
}

// Get serves commits from Redis. Trees and blobs pass through.
func (s *CachedStore) Get(ctx context.Context, hash types.Hash) (core.Object, error) {
	data, err := s.client.Get(ctx, s.commitKey(hash)).Bytes()
	if err == nil {
		if raw := core.NewRaw(core.TypeCommit, data); raw.ID() == hash {
			return raw, nil
		}
		slog.Warn("cached commit does not match its id", slog.String("hash", hash.String()))
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("redis lookup failed, falling back to object store", slog.String("err", err.Error()))
	}

	obj, err := s.backend.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if obj.Type() == core.TypeCommit {
		s.fill(s.commitKey(hash), obj.Bytes(), s.cacheKey(hash), obj.Type().String())
	}
	return obj, nil
}

// ExpandHash passes through; prefix scans need the authoritative listing.
func (s *CachedStore) ExpandHash(ctx context.Context, prefix types.HashPrefix) (types.Hash, error) {
	return s.backend.ExpandHash(ctx, prefix)
}

func (s *CachedStore) MatchPrefix(ctx context.Context, prefix types.HashPrefix) ([]types.Hash, error) {
	return s.backend.MatchPrefix(ctx, prefix)
}
