package observer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanRecord is the JSONL schema written to the trace output file.
type SpanRecord struct {
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Operation    string            `json:"operation"`
	StartTime    string            `json:"start_time"`
	EndTime      string            `json:"end_time"`
	DurationUS   int64             `json:"duration_us"`
	Status       string            `json:"status"`
	StatusMsg    string            `json:"status_msg,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// JSONLExporter implements sdktrace.SpanExporter, appending one JSON line
// per finished span.
type JSONLExporter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewJSONLExporter opens (or creates) the trace output file.
func NewJSONLExporter(path string) (*JSONLExporter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace output: %w", err)
	}
	return &JSONLExporter{file: f, writer: bufio.NewWriter(f)}, nil
}

// ExportSpans writes each span as a JSON line and flushes.
func (e *JSONLExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.writer == nil {
		return nil
	}
	for _, span := range spans {
		data, err := json.Marshal(toRecord(span))
		if err != nil {
			continue
		}
		e.writer.Write(data)
		e.writer.WriteByte('\n')
	}
	return e.writer.Flush()
}

// Shutdown flushes pending data and closes the file.
func (e *JSONLExporter) Shutdown(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.writer != nil {
		e.writer.Flush()
	}
	if e.file != nil {
		err := e.file.Close()
		e.file = nil
		e.writer = nil
		return err
	}
	return nil
}

func toRecord(s sdktrace.ReadOnlySpan) SpanRecord {
	sc := s.SpanContext()

	var parentID string
	if p := s.Parent(); p.HasSpanID() {
		parentID = p.SpanID().String()
	}

	var status string
	switch s.Status().Code {
	case codes.Error:
		status = "error"
	case codes.Ok:
		status = "ok"
	default:
		status = "unset"
	}

	attrs := make(map[string]string, len(s.Attributes()))
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}

	start, end := s.StartTime(), s.EndTime()
	return SpanRecord{
		TraceID:      sc.TraceID().String(),
		SpanID:       sc.SpanID().String(),
		ParentSpanID: parentID,
		Operation:    s.Name(),
		StartTime:    start.Format(time.RFC3339Nano),
		EndTime:      end.Format(time.RFC3339Nano),
		DurationUS:   end.Sub(start).Microseconds(),
		Status:       status,
		StatusMsg:    s.Status().Description,
		Attributes:   attrs,
	}
}

var _ sdktrace.SpanExporter = (*JSONLExporter)(nil)
