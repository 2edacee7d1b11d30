// Package httpserver implements the worker's small debug/health HTTP
// surface (spec §6.6, ambient infrastructure): liveness, Prometheus
// metrics, and the HTTP-reachable twin of the DESCRIBE CLI flag. Grounded
// on the teacher's chi-based server package idiom (middleware stack,
// route registration style) generalized from a REST API to three debug
// routes.
package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/adapter/observability"
	"github.com/fairyhunter13/mcai-worker-runtime/internal/domain"
)

// DescribeFunc returns the worker's current announcement, used to answer
// GET /describe.
type DescribeFunc func() domain.WorkerConfiguration

// New builds the chi mux serving /healthz, /metrics, and /describe
// (spec §6.6).
func New(describe DescribeFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))
	r.Use(httprate.LimitByIP(100, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/describe", func(w http.ResponseWriter, r *http.Request) {
		cfg := describe()
		if r.URL.Query().Get("format") == "yaml" {
			w.Header().Set("Content-Type", "application/yaml")
			_ = yaml.NewEncoder(w).Encode(cfg)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cfg)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
