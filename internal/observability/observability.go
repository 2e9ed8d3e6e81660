// Package observability wires OTLP trace export into Genkit's tracer
// provider. Spans from generation and embedding calls are batched and
// shipped to a local collector over OTLP HTTP.
package observability

import (
	"context"
	"os"
	"time"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/nourly/nourly/internal/log"
)

// Config for trace export.
type Config struct {
	// Endpoint is the collector's OTLP HTTP endpoint (host:port).
	// Empty disables tracing entirely.
	Endpoint string
	// ServiceName appears as service.name on exported spans.
	ServiceName string
	// Environment tags spans with deployment.environment.
	Environment string
}

const shutdownTimeout = 5 * time.Second

// Setup registers an OTLP HTTP exporter with Genkit's TracerProvider.
// Returns a cleanup function that flushes pending spans; on any setup
// failure tracing is disabled and the cleanup is a no-op, the server
// still starts.
func Setup(ctx context.Context, cfg Config, logger log.Logger) func() {
	if cfg.Endpoint == "" {
		logger.Debug("no OTLP endpoint configured, tracing disabled")
		return func() {}
	}

	// Genkit's TracerProvider reads the service identity from the
	// standard OTEL env vars. Setup runs once during startup, before
	// any goroutines are spawned.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(), // local collector, no TLS
	)
	if err != nil {
		logger.Warn("creating OTLP exporter failed, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("tracing enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	shutdown := tracing.TracerProvider().Shutdown
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}
