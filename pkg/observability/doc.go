// Package observability provides logging, metrics, tracing and health
// checks for the leadflow service.
//
// # Logging
//
// Services receive a *logrus.Logger built by NewLogger (JSON output).
// Request-scoped fields travel through the context:
//
//	ctx = observability.WithRunID(ctx, runID)
//	observability.FromContext(ctx, logger).Info("conversion started")
//
// # Metrics
//
// NewMetrics registers the leadflow_* Prometheus collectors. A nil
// *Metrics is accepted everywhere and records nothing.
//
// # Tracing
//
// InitOTel installs OTLP/gRPC trace and metric exporters when enabled;
// Tracer returns the tracer used for saga step spans.
//
// # Health
//
// HealthChecker backs /healthz and /readyz. The directory is a required
// dependency; redis only degrades readiness.
package observability
