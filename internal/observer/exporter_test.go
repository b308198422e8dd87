package observer

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestJSONLExporterWritesSpans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")

	exporter, err := NewJSONLExporter(path)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	tracer := tp.Tracer("test")

	_, span := tracer.Start(context.Background(), "proc.created",
		trace.WithAttributes(attribute.Int64("pid", 7)))
	span.End()

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("no span written")
	}

	var rec SpanRecord
	if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Operation != "proc.created" {
		t.Fatalf("operation = %q, want proc.created", rec.Operation)
	}
	if rec.Attributes["pid"] != "7" {
		t.Fatalf("attributes = %v, want pid=7", rec.Attributes)
	}
	if rec.TraceID == "" || rec.SpanID == "" {
		t.Fatalf("missing ids: %+v", rec)
	}
}

func TestExporterShutdownIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	exporter, err := NewJSONLExporter(path)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}

	if err := exporter.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := exporter.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
	// Exports after shutdown are dropped, not an error.
	if err := exporter.ExportSpans(context.Background(), nil); err != nil {
		t.Fatalf("export after shutdown: %v", err)
	}
}
