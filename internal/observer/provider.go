package observer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "synos/observer"

// Setup initializes the tracing pipeline: a per-session JSONL file under
// logs/trace/, a batch span processor, and the global TracerProvider.
// Returns a shutdown function that flushes and closes the exporter.
func Setup(session, node string) (shutdown func(context.Context), err error) {
	dir := filepath.Join("logs", "trace")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}

	exporter, err := NewJSONLExporter(filepath.Join(dir, session+".jsonl"))
	if err != nil {
		return nil, err
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter,
		sdktrace.WithBatchTimeout(2*time.Second),
	)

	res := resource.NewSchemaless(
		attribute.String("service.name", "synos-core"),
		attribute.String("synos.node", node),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(bsp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) {
		_ = tp.Shutdown(ctx)
	}, nil
}

// Tracer returns the package tracer for manual span creation.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
