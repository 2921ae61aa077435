// Package telemetry bootstraps the process-wide OpenTelemetry tracer
// provider. The core is stateless across restarts (spec §6.3); exporter
// wiring (OTLP, stdout, ...) is left to the deployment, so the SDK is
// initialized here with no span processor attached — a valid, minimal
// bootstrap that the adapter completes by registering one.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/takrelay/aggregator"

// Provider owns the SDK's TracerProvider lifecycle.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider constructs and registers the global TracerProvider.
func NewProvider() *Provider {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}
}

// Shutdown flushes and releases the tracer provider's resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// Tracer returns the aggregator's shared tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
