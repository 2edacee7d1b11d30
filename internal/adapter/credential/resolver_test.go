package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/adapter/credential/cache"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/config"
)

func TestResolve_EnvStore_JSONValue(t *testing.T) {
	t.Setenv("MY_FLAG", "true")
	r := New(nil)

	v, err := r.Resolve(context.Background(), "MY_FLAG", "env")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v != true {
		t.Fatalf("expected parsed bool true, got %#v", v)
	}
}

func TestResolve_EnvStore_RawStringFallback(t *testing.T) {
	t.Setenv("MY_NAME", "not-json")
	r := New(nil)

	v, err := r.Resolve(context.Background(), "MY_NAME", "ENVIRONMENT")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v != "not-json" {
		t.Fatalf("expected raw string fallback, got %#v", v)
	}
}

func TestResolve_EnvStore_MissingVariable(t *testing.T) {
	r := New(nil)
	_, err := r.Resolve(context.Background(), "DOES_NOT_EXIST", "env")
	if err == nil {
		t.Fatalf("expected error for missing env var")
	}
}

func TestResolve_HTTPStore_SessionThenCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/sessions":
			var req sessionRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Session.Email != "user@example.com" {
				t.Fatalf("unexpected session email: %s", req.Session.Email)
			}
			_ = json.NewEncoder(w).Encode(sessionResponse{AccessToken: "token-123"})
		case "/credentials/api-key":
			if got := r.Header.Get("Authorization"); got != "token-123" {
				t.Fatalf("expected auth header token-123, got %s", got)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"value": "s3cr3t-value"},
			})
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	r := newResolver(nil, func(store string) (config.CredentialStoreConfig, bool) {
		if store != "BACKEND" {
			return config.CredentialStoreConfig{}, false
		}
		return config.CredentialStoreConfig{
			Hostname: server.URL,
			Username: "user@example.com",
			Password: "hunter2",
		}, true
	})

	v, err := r.Resolve(context.Background(), "api-key", "BACKEND")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v != "s3cr3t-value" {
		t.Fatalf("expected s3cr3t-value, got %#v", v)
	}
}

func TestResolve_HTTPStore_UnconfiguredStore(t *testing.T) {
	r := newResolver(nil, func(string) (config.CredentialStoreConfig, bool) {
		return config.CredentialStoreConfig{}, false
	})
	_, err := r.Resolve(context.Background(), "key", "UNKNOWN")
	if err == nil {
		t.Fatalf("expected error for unconfigured store")
	}
}

func TestResolve_HTTPStore_CachesResolvedValue(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/sessions":
			calls++
			_ = json.NewEncoder(w).Encode(sessionResponse{AccessToken: "token"})
		case "/credentials/api-key":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"value": "cached-value"},
			})
		}
	}))
	defer server.Close()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()
	c := cache.NewFromClient(rdb, time.Minute)

	r2 := newResolver(c, func(store string) (config.CredentialStoreConfig, bool) {
		return config.CredentialStoreConfig{Hostname: server.URL, Username: "u", Password: "p"}, true
	})

	ctx := context.Background()
	if _, err := r2.Resolve(ctx, "api-key", "BACKEND"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := r2.Resolve(ctx, "api-key", "BACKEND"); err != nil {
		t.Fatalf("second resolve: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected exactly one session call due to caching, got %d", calls)
	}
}

func TestIsEnvStore(t *testing.T) {
	cases := map[string]bool{
		"env":         true,
		"ENV":         true,
		"environment": true,
		"Environment": true,
		"BACKEND":     false,
		"":            false,
	}
	for store, want := range cases {
		if got := isEnvStore(store); got != want {
			t.Fatalf("isEnvStore(%q) = %v, want %v", store, got, want)
		}
	}
}
