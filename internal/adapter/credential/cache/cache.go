// Package cache provides a Redis-backed TTL cache in front of the HTTP
// credential resolver (spec §6.5), so a worker resolving the same
// credential key on every job does not round-trip the session+token dance
// each time. This repurposes the teacher's asynq/go-redis queue stack: the
// Redis client becomes the cache store, and asynq's scheduler primitives
// back a periodic maintenance sweep instead of job dispatch.
package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const keyPrefix = "mcai:credential:"

// EvictionTask is the asynq task type the maintenance sweep registers
// itself under.
const EvictionTask = "credential_cache:evict"

// Cache is a TTL-bounded store for resolved credential values, keyed by
// store/key so distinct stores never collide.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New constructs a Cache against the given Redis address.
func New(addr string, ttl time.Duration) *Cache {
	return NewFromClient(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

// NewFromClient wraps an existing Redis client; tests point this at a
// miniredis instance.
func NewFromClient(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// cacheKey hashes store/key with blake2b before using it as a Redis key, so
// a credential's literal name (which may itself be sensitive, e.g. a vault
// path) never appears in plaintext in the cache backend, only in memory
// long enough to compute the digest.
func cacheKey(store, key string) string {
	sum := blake2b.Sum256([]byte(store + "/" + key))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached value for store/key, if present and unexpired.
func (c *Cache) Get(ctx context.Context, store, key string) (any, bool) {
	raw, err := c.rdb.Get(ctx, cacheKey(store, key)).Bytes()
	if err != nil {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// Set stores a resolved value for store/key with the cache's TTL.
func (c *Cache) Set(ctx context.Context, store, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("op=cache.Set marshal: %w", err)
	}
	return c.rdb.Set(ctx, cacheKey(store, key), raw, c.ttl).Err()
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

// sweep removes entries whose TTL Redis reports as already expired or
// untracked. Redis normally reclaims expired keys on its own; this is a
// defensive pass for replicas or clock skew.
func (c *Cache) sweep(ctx context.Context) error {
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := c.rdb.TTL(ctx, key).Result()
		if err != nil {
			continue
		}
		if ttl <= 0 {
			c.rdb.Del(ctx, key)
		}
	}
	return iter.Err()
}

// RegisterEvictionScheduler wires a periodic sweep task on the given
// interval, mirroring the teacher's asynq periodic-task idiom.
func RegisterEvictionScheduler(redisURI string, every time.Duration) (*asynq.Scheduler, error) {
	opt, err := asynq.ParseRedisURI(redisURI)
	if err != nil {
		return nil, fmt.Errorf("op=cache.RegisterEvictionScheduler: %w", err)
	}
	scheduler := asynq.NewScheduler(opt, nil)
	task := asynq.NewTask(EvictionTask, nil)
	if _, err := scheduler.Register(fmt.Sprintf("@every %s", every), task); err != nil {
		return nil, fmt.Errorf("op=cache.RegisterEvictionScheduler register: %w", err)
	}
	return scheduler, nil
}

// NewEvictionServer builds the asynq server+mux pair that performs the
// sweep when EvictionTask fires.
func NewEvictionServer(redisURI string, c *Cache) (*asynq.Server, *asynq.ServeMux, error) {
	opt, err := asynq.ParseRedisURI(redisURI)
	if err != nil {
		return nil, nil, fmt.Errorf("op=cache.NewEvictionServer: %w", err)
	}
	srv := asynq.NewServer(opt, asynq.Config{Concurrency: 1})
	mux := asynq.NewServeMux()
	mux.HandleFunc(EvictionTask, func(ctx context.Context, _ *asynq.Task) error {
		return c.sweep(ctx)
	})
	return srv, mux, nil
}
