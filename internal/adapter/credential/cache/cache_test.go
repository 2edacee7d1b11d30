package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewFromClient(rdb, ttl)
	return c, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func TestCache_SetGet_RoundTrip(t *testing.T) {
	c, cleanup := newTestCache(t, time.Minute)
	defer cleanup()
	ctx := context.Background()

	if err := c.Set(ctx, "BACKEND", "api-key", "s3cr3t"); err != nil {
		t.Fatalf("set: %v", err)
	}

	v, ok := c.Get(ctx, "BACKEND", "api-key")
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if v != "s3cr3t" {
		t.Fatalf("expected s3cr3t, got %v", v)
	}
}

func TestCache_Get_Miss(t *testing.T) {
	c, cleanup := newTestCache(t, time.Minute)
	defer cleanup()

	_, ok := c.Get(context.Background(), "BACKEND", "missing")
	if ok {
		t.Fatalf("expected cache miss")
	}
}

func TestCache_DistinctStoresDoNotCollide(t *testing.T) {
	c, cleanup := newTestCache(t, time.Minute)
	defer cleanup()
	ctx := context.Background()

	_ = c.Set(ctx, "BACKEND", "key", "backend-value")
	_ = c.Set(ctx, "OTHER_STORE", "key", "other-value")

	v1, _ := c.Get(ctx, "BACKEND", "key")
	v2, _ := c.Get(ctx, "OTHER_STORE", "key")
	if v1 != "backend-value" || v2 != "other-value" {
		t.Fatalf("store key namespaces collided: %v, %v", v1, v2)
	}
}

func TestCache_Sweep_RemovesExpiredEntries(t *testing.T) {
	c, cleanup := newTestCache(t, time.Millisecond)
	defer cleanup()
	ctx := context.Background()

	if err := c.Set(ctx, "BACKEND", "short-lived", "value"); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if err := c.sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if _, ok := c.Get(ctx, "BACKEND", "short-lived"); ok {
		t.Fatalf("expected entry to be gone after sweep")
	}
}
