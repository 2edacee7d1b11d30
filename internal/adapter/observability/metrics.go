// Package observability provides logging, metrics, and tracing.
//
// It integrates with OpenTelemetry for system monitoring.
// The package provides comprehensive observability features
// including metrics collection, distributed tracing, and logging.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts HTTP requests by route, method, and status label.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration records request durations by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// CredentialRequestsTotal counts credential store resolutions by store and operation.
	CredentialRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_requests_total",
			Help: "Total number of credential store resolutions by store and operation",
		},
		[]string{"store", "operation"},
	)
	// CredentialRequestDuration records durations of credential store resolutions.
	CredentialRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credential_request_duration_seconds",
			Help:    "Credential store request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"store", "operation"},
	)

	// JobsEnqueuedTotal counts jobs delivered to the processor by process kind.
	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs delivered to the processor",
		},
		[]string{"kind"},
	)
	// JobsProcessing is a gauge of the number of currently processing jobs by kind.
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"kind"},
	)
	// JobsCompletedTotal counts jobs completed by kind.
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"kind"},
	)
	// JobsFailedTotal counts jobs failed by kind.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"kind"},
	)
	// JobsStoppedTotal counts jobs terminated by a cooperative stop order.
	JobsStoppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_stopped_total",
			Help: "Total number of jobs stopped via StopProcess",
		},
		[]string{"kind"},
	)

	// DeliveriesOutstanding gauges the delivery tracker's outstanding deliveries per concern.
	DeliveriesOutstanding = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deliveries_outstanding",
			Help: "Number of outstanding broker deliveries per concern",
		},
		[]string{"concern"},
	)

	// FramesDecodedTotal counts frames dispatched to the worker by the media pipeline.
	FramesDecodedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_frames_decoded_total",
			Help: "Total number of frames dispatched to process_frame",
		},
		[]string{"stream_kind"},
	)

	// CircuitBreakerStatus tracks circuit breaker state.
	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_status",
			Help: "Circuit breaker status (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "operation"},
	)
)

// InitMetrics registers all Prometheus metrics with the default registry.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(CredentialRequestsTotal)
	prometheus.MustRegister(CredentialRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(JobsStoppedTotal)
	prometheus.MustRegister(DeliveriesOutstanding)
	prometheus.MustRegister(FramesDecodedTotal)
	prometheus.MustRegister(CircuitBreakerStatus)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// EnqueueJob increments the enqueued jobs counter for the given process kind.
func EnqueueJob(kind string) {
	JobsEnqueuedTotal.WithLabelValues(kind).Inc()
}

// StartProcessingJob increments the processing gauge for the given kind.
func StartProcessingJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Inc()
}

// CompleteJob marks a job complete by decrementing the processing gauge and
// incrementing the completed counter.
func CompleteJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsCompletedTotal.WithLabelValues(kind).Inc()
}

// FailJob marks a job failed by decrementing the processing gauge and
// incrementing the failed counter.
func FailJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsFailedTotal.WithLabelValues(kind).Inc()
}

// StopJob marks a job stopped by decrementing the processing gauge and
// incrementing the stopped counter.
func StopJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsStoppedTotal.WithLabelValues(kind).Inc()
}

// SetDeliveriesOutstanding reports the current size of one concern's
// delivery set in the tracker.
func SetDeliveriesOutstanding(concern string, count int) {
	DeliveriesOutstanding.WithLabelValues(concern).Set(float64(count))
}

// RecordFrameDecoded increments the decoded-frame counter for a stream kind.
func RecordFrameDecoded(streamKind string) {
	FramesDecodedTotal.WithLabelValues(streamKind).Inc()
}

// RecordCircuitBreakerStatus records circuit breaker state.
func RecordCircuitBreakerStatus(service, operation string, status int) {
	CircuitBreakerStatus.WithLabelValues(service, operation).Set(float64(status))
}
