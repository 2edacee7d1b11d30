// Package credential implements the Credential Resolver (spec §6.5): a
// param.Resolver that dereferences a key against either the environment or
// an HTTP-backed session+token store, with an optional cache in front of
// the HTTP path. Grounded on rs_mcai_worker_sdk's parameter/store.rs
// request_value, rewritten against the teacher's HTTP-client idiom (a
// *http.Client wrapped in an otelhttp transport and an
// IntegratedObservableClient, with cenkalti/backoff retries).
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/adapter/credential/cache"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/config"
	intobs "github.com/fairyhunter13/mcai-worker-runtime/internal/observability"
)

// storeLookup resolves a store's HTTP connection settings; overridable in
// tests.
type storeLookup func(store string) (config.CredentialStoreConfig, bool)

// Resolver implements param.Resolver against environment variables and
// HTTP-backed credential stores.
type Resolver struct {
	httpClient *http.Client
	obs        *intobs.IntegratedObservableClient
	cache      *cache.Cache
	lookup     storeLookup
}

// New constructs a Resolver. c may be nil to disable caching of
// HTTP-resolved values.
func New(c *cache.Cache) *Resolver {
	return newResolver(c, config.LookupCredentialStore)
}

func newResolver(c *cache.Cache, lookup storeLookup) *Resolver {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("credential %s %s", r.Method, r.URL.Host)
		}),
	)
	return &Resolver{
		httpClient: &http.Client{Timeout: 10 * time.Second, Transport: transport},
		obs: intobs.NewIntegratedObservableClient(
			intobs.ConnectionTypeCredential,
			intobs.OperationTypeResolve,
			"credential-store",
			"credential-resolver",
			5*time.Second,
			1*time.Second,
			15*time.Second,
		),
		cache:  c,
		lookup: lookup,
	}
}

// isEnvStore reports whether store names the environment-variable backend
// (spec §6.5: `env`, `environment`, case-insensitively).
func isEnvStore(store string) bool {
	switch strings.ToLower(store) {
	case "env", "environment":
		return true
	default:
		return false
	}
}

// Resolve dereferences key against store, per spec §6.5.
func (r *Resolver) Resolve(ctx context.Context, key, store string) (any, error) {
	if isEnvStore(store) {
		return resolveEnv(key)
	}

	if r.cache != nil {
		if v, ok := r.cache.Get(ctx, store, key); ok {
			return v, nil
		}
	}

	storeCfg, ok := r.lookup(store)
	if !ok {
		return nil, fmt.Errorf("credential store %q not configured", store)
	}

	var value any
	err := r.obs.ExecuteWithMetrics(ctx, "resolve", func(callCtx context.Context) error {
		expo := backoff.NewExponentialBackOff()
		expo.MaxElapsedTime = 15 * time.Second
		return backoff.Retry(func() error {
			v, ferr := r.fetch(callCtx, storeCfg, key)
			if ferr != nil {
				return ferr
			}
			value = v
			return nil
		}, backoff.WithContext(expo, callCtx))
	})
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		_ = r.cache.Set(ctx, store, key, value)
	}
	return value, nil
}

func resolveEnv(key string) (any, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, fmt.Errorf("environment variable %q not set", key)
	}
	return parseOrString(raw), nil
}

// parseOrString parses raw as JSON, falling back to the raw string itself
// (spec §6.5: "parse value as JSON; fall back to raw string").
func parseOrString(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

type sessionRequest struct {
	Session sessionCredentials `json:"session"`
}

type sessionCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	AccessToken string `json:"access_token"`
}

type valueResponse struct {
	Data struct {
		Value json.RawMessage `json:"value"`
	} `json:"data"`
}

// fetch performs the session+token credential request described in
// spec §6.5: POST /sessions for an access token, then GET
// /credentials/<key> with that token.
func (r *Resolver) fetch(ctx context.Context, storeCfg config.CredentialStoreConfig, key string) (any, error) {
	token, err := r.authenticate(ctx, storeCfg)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/credentials/%s", strings.TrimRight(storeCfg.Hostname, "/"), key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("credential store %s: status %d", storeCfg.Hostname, resp.StatusCode)
	}

	var body valueResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("credential store %s: decode response: %w", storeCfg.Hostname, err)
	}

	var asString string
	if err := json.Unmarshal(body.Data.Value, &asString); err == nil {
		return parseOrString(asString), nil
	}
	var v any
	if err := json.Unmarshal(body.Data.Value, &v); err != nil {
		return nil, fmt.Errorf("credential store %s: unmarshal value: %w", storeCfg.Hostname, err)
	}
	return v, nil
}

// authenticate opens a session against the store and returns the access
// token to present on the credential request.
func (r *Resolver) authenticate(ctx context.Context, storeCfg config.CredentialStoreConfig) (string, error) {
	payload, err := json.Marshal(sessionRequest{Session: sessionCredentials{
		Email:    storeCfg.Username,
		Password: storeCfg.Password,
	}})
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(storeCfg.Hostname, "/") + "/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("credential store %s: session status %d", storeCfg.Hostname, resp.StatusCode)
	}

	var body sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("credential store %s: decode session: %w", storeCfg.Hostname, err)
	}
	return body.AccessToken, nil
}
