// Package store persists worker telemetry, job lifecycle, and user
// preferences behind a small typed key/value abstraction. The preferred
// backend is Redis; when Redis is unreachable at startup the store falls
// back to an in-process cache so a single-node deployment keeps working.
package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const connectTimeout = 5 * time.Second

// KV is the contract both backends satisfy. All operations are atomic per
// key; values are JSON-encoded records.
type KV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// redisKV backs the store with a Redis server.
type redisKV struct {
	client *redis.Client
}

func (r *redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *redisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisKV) Keys(ctx context.Context, pattern string) ([]string, error) {
	return r.client.Keys(ctx, pattern).Result()
}

// memoryKV backs the store with an in-process TTL cache.
type memoryKV struct {
	cache *cache.Cache
}

func newMemoryKV() *memoryKV {
	return &memoryKV{cache: cache.New(cache.NoExpiration, 10*time.Minute)}
}

func (m *memoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.cache.Set(key, value, ttl)
	return nil
}

func (m *memoryKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m *memoryKV) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

func (m *memoryKV) Keys(_ context.Context, pattern string) ([]string, error) {
	var keys []string
	for k := range m.cache.Items() {
		if globMatch(pattern, k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// globMatch implements Redis-style glob matching. Unlike path.Match, '*'
// crosses every character; worker keys embed URLs with slashes.
func globMatch(pattern, s string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if globMatch(pattern, s[i:]) {
					return true
				}
			}
			return false
		case '?':
			if s == "" {
				return false
			}
		default:
			if s == "" || s[0] != pattern[0] {
				return false
			}
		}
		pattern = pattern[1:]
		s = s[1:]
	}
	return s == ""
}

// Open connects to Redis at addr and returns a store over it. If addr is
// empty or the server does not answer a ping, the in-memory backend is used
// instead and the fallback is logged once.
func Open(ctx context.Context, addr string) *Store {
	logger := logrus.WithField("component", "store")

	if addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err == nil {
			logger.WithField("addr", addr).Info("Connected to Redis")
			return NewStore(&redisKV{client: client})
		} else {
			logger.WithError(err).WithField("addr", addr).Warn("Redis unavailable, falling back to in-memory store")
			_ = client.Close()
		}
	} else {
		logger.Info("No Redis address configured, using in-memory store")
	}
	return NewStore(newMemoryKV())
}
