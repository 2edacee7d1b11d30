// Package observability provides an integrated observable client wrapper for
// external connections (AMQP broker, credential stores, media decode calls),
// tying adaptive timeouts and circuit breaking to OpenTelemetry and Prometheus.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/mcai-worker-runtime/internal/adapter/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// IntegratedObservableClient wraps external clients with OpenTelemetry tracing and Prometheus metrics
type IntegratedObservableClient struct {
	// Core components
	AdaptiveTimeout *AdaptiveTimeoutManager
	CircuitBreaker  *CircuitBreaker
	Metrics         *ConnectionMetrics

	// Connection details
	ConnectionType ConnectionType
	OperationType  OperationType
	Endpoint       string
	ServiceName    string

	// OpenTelemetry tracer
	tracer trace.Tracer
}

// NewIntegratedObservableClient creates a new integrated observable client
func NewIntegratedObservableClient(
	connectionType ConnectionType,
	operationType OperationType,
	endpoint string,
	serviceName string,
	baseTimeout time.Duration,
	minTimeout time.Duration,
	maxTimeout time.Duration,
) *IntegratedObservableClient {
	return &IntegratedObservableClient{
		AdaptiveTimeout: NewAdaptiveTimeoutManager(baseTimeout, minTimeout, maxTimeout),
		CircuitBreaker:  NewCircuitBreaker(5, 30*time.Second, 0.5),
		Metrics:         NewConnectionMetrics(connectionType, operationType, endpoint),
		ConnectionType:  connectionType,
		OperationType:   operationType,
		Endpoint:        endpoint,
		ServiceName:     serviceName,
		tracer:          otel.Tracer("mcai-worker-runtime"),
	}
}

// ExecuteWithMetrics executes a function with comprehensive observability
func (c *IntegratedObservableClient) ExecuteWithMetrics(
	ctx context.Context,
	operation string,
	fn func(ctx context.Context) error,
) error {
	// Start OpenTelemetry span
	spanCtx, span := c.tracer.Start(ctx, fmt.Sprintf("%s.%s", c.ServiceName, operation))
	defer span.End()

	// Set span attributes
	span.SetAttributes(
		attribute.String("connection.type", string(c.ConnectionType)),
		attribute.String("operation.type", string(c.OperationType)),
		attribute.String("endpoint", c.Endpoint),
		attribute.String("service.name", c.ServiceName),
		attribute.String("operation.name", operation),
	)

	if !c.CircuitBreaker.CanExecute() {
		span.SetAttributes(attribute.Bool("circuit_breaker.open", true))
		span.SetStatus(codes.Error, "circuit breaker open")
		err := fmt.Errorf("op=observability.ExecuteWithMetrics: circuit breaker open for %s/%s", c.ServiceName, operation)
		slog.Warn("rejecting call while circuit breaker is open",
			slog.String("connection_type", string(c.ConnectionType)),
			slog.String("endpoint", c.Endpoint),
			slog.String("operation", operation))
		return err
	}

	// Get adaptive timeout
	timeout := c.AdaptiveTimeout.GetTimeout()
	span.SetAttributes(attribute.Float64("timeout.seconds", timeout.Seconds()))

	// Create timeout context
	timeoutCtx, cancel := context.WithTimeout(spanCtx, timeout)
	defer cancel()

	// Record start time for metrics
	start := time.Now()

	// Execute the function
	err := fn(timeoutCtx)

	// Calculate duration
	duration := time.Since(start)

	// Update adaptive timeout and circuit breaker based on result
	if err != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded {
			c.AdaptiveTimeout.RecordTimeout()
			span.SetStatus(codes.Error, "timeout")
			span.SetAttributes(attribute.Bool("timeout", true))
		} else {
			c.AdaptiveTimeout.RecordFailure(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.CircuitBreaker.RecordFailure()
		span.SetAttributes(attribute.Bool("success", false))
	} else {
		c.AdaptiveTimeout.RecordSuccess(duration)
		c.CircuitBreaker.RecordSuccess()
		span.SetStatus(codes.Ok, "success")
		span.SetAttributes(attribute.Bool("success", true))
	}

	span.SetAttributes(attribute.String("circuit_breaker.state", c.CircuitBreaker.GetState().String()))

	// Record Prometheus metrics based on connection type
	c.recordPrometheusMetrics(operation, duration, err)

	// Set span attributes for duration and result
	span.SetAttributes(
		attribute.Float64("duration.seconds", duration.Seconds()),
		attribute.Bool("success", err == nil),
	)

	return err
}

// recordPrometheusMetrics records metrics using the existing Prometheus infrastructure
func (c *IntegratedObservableClient) recordPrometheusMetrics(operation string, duration time.Duration, err error) {
	// Determine status label
	status := "success"
	if err != nil {
		if err == context.DeadlineExceeded {
			status = "timeout"
		} else {
			status = "error"
		}
	}

	// Record metrics based on connection type
	switch c.ConnectionType {
	case ConnectionTypeCredential:
		observability.CredentialRequestsTotal.WithLabelValues(
			c.Endpoint,
			operation,
		).Inc()
		observability.CredentialRequestDuration.WithLabelValues(
			c.Endpoint,
			operation,
		).Observe(duration.Seconds())

	case ConnectionTypeAMQP:
		switch status {
		case "success":
			observability.JobsCompletedTotal.WithLabelValues(operation).Inc()
		case "failed", "timeout":
			observability.JobsFailedTotal.WithLabelValues(operation).Inc()
		}

		observability.HTTPRequestDuration.WithLabelValues(
			c.Endpoint,
			operation,
		).Observe(duration.Seconds())

	case ConnectionTypeHTTP:
		// Use comprehensive HTTP metrics for full observability
		observability.HTTPRequestsTotal.WithLabelValues(
			c.Endpoint,
			operation,
			status,
		).Inc()

		// Record HTTP request duration
		observability.HTTPRequestDuration.WithLabelValues(
			c.Endpoint,
			operation,
		).Observe(duration.Seconds())

	case ConnectionTypeMedia:
		if status == "success" {
			observability.RecordFrameDecoded(operation)
		}
		observability.HTTPRequestDuration.WithLabelValues(
			c.Endpoint,
			operation,
		).Observe(duration.Seconds())
	}

	// Log the operation
	slog.Info("external connection executed",
		slog.String("connection_type", string(c.ConnectionType)),
		slog.String("operation_type", string(c.OperationType)),
		slog.String("endpoint", c.Endpoint),
		slog.String("operation", operation),
		slog.Duration("duration", duration),
		slog.Bool("success", err == nil),
		slog.String("status", status),
		slog.Duration("timeout", c.AdaptiveTimeout.GetTimeout()),
	)
}

// GetHealthStatus returns the health status of the connection, combining the
// adaptive timeout's recent success rate with the circuit breaker's state:
// a connection mid-backoff in an open breaker is reported unhealthy even if
// its lifetime failure rate still looks fine.
func (c *IntegratedObservableClient) GetHealthStatus() map[string]interface{} {
	stats := c.AdaptiveTimeout.GetStats()
	breakerState := c.CircuitBreaker.GetState()

	return map[string]interface{}{
		"is_healthy":           c.IsHealthy(),
		"current_timeout":      c.AdaptiveTimeout.GetTimeout().Seconds(),
		"success_rate":         stats["success_rate"],
		"total_requests":       stats["total_requests"],
		"last_update":          stats["last_update"],
		"circuit_breaker":      breakerState.String(),
		"circuit_failure_rate": c.CircuitBreaker.FailureRate(),
	}
}

// IsHealthy returns true if the connection is healthy: the circuit breaker
// must not be tripped open and the breaker's lifetime failure rate must stay
// under 20%.
func (c *IntegratedObservableClient) IsHealthy() bool {
	if c.CircuitBreaker.GetState() == StateOpen {
		return false
	}
	return c.CircuitBreaker.FailureRate() < 0.2
}
