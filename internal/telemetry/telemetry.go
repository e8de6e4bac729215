// Package telemetry installs the tracer provider job spans are recorded with.
//
// Spans can be written to a local file as OTLP JSON, one ResourceSpans
// object per line, so a run can be inspected or replayed into a collector
// without the CLI holding a network connection open.
package telemetry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// EnvTraceFile names a trace file when --trace-file is not given.
const EnvTraceFile = "FINOPS_TRACE_FILE"

// ServiceName is the service.name resource attribute.
const ServiceName = "finops-cli"

// Setup installs a global sdk tracer provider.
//
// Parameters:
//   - path: Trace file to append spans to; "" records nothing
//   - version: The CLI version, stored as service.version
//
// Returns:
//   - func(context.Context) error: Flushes and shuts the provider down
//   - error: The trace file could not be opened
func Setup(path, version string) (func(context.Context) error, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", version),
	)
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace file: %w", err)
		}
		opts = append(opts, sdktrace.WithSpanProcessor(NewFileExporter(f)))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// FileExporter is a span processor that writes every ended span as a line
// of OTLP JSON.
type FileExporter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	closed bool
}

// NewFileExporter creates an exporter writing to w. If w is an io.Closer it
// is closed on Shutdown.
func NewFileExporter(w io.Writer) *FileExporter {
	e := &FileExporter{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		e.closer = c
	}
	return e
}

// OnStart is a no-op; spans are written once they end.
func (e *FileExporter) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd writes the span.
func (e *FileExporter) OnEnd(s sdktrace.ReadOnlySpan) {
	line, err := protojson.Marshal(ResourceSpans(s))
	if err != nil {
		otel.Handle(err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.w.Write(line)
	e.w.WriteByte('\n')
}

// ForceFlush writes buffered spans through.
func (e *FileExporter) ForceFlush(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	return e.w.Flush()
}

// Shutdown flushes and closes the underlying writer. Later spans are dropped.
func (e *FileExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	err := e.w.Flush()
	if e.closer != nil {
		err = errors.Join(err, e.closer.Close())
	}
	return err
}

// ResourceSpans converts one ended span into its OTLP representation.
func ResourceSpans(s sdktrace.ReadOnlySpan) *tracepb.ResourceSpans {
	sc := s.SpanContext()
	traceID := sc.TraceID()
	spanID := sc.SpanID()

	span := &tracepb.Span{
		TraceId:           traceID[:],
		SpanId:            spanID[:],
		Name:              s.Name(),
		Kind:              tracepb.Span_SpanKind(s.SpanKind()),
		StartTimeUnixNano: uint64(s.StartTime().UnixNano()),
		EndTimeUnixNano:   uint64(s.EndTime().UnixNano()),
		Attributes:        keyValues(s.Attributes()),
		Status:            status(s.Status()),
	}
	if parent := s.Parent(); parent.IsValid() {
		id := parent.SpanID()
		span.ParentSpanId = id[:]
	}
	for _, ev := range s.Events() {
		span.Events = append(span.Events, &tracepb.Span_Event{
			TimeUnixNano: uint64(ev.Time.UnixNano()),
			Name:         ev.Name,
			Attributes:   keyValues(ev.Attributes),
		})
	}

	rs := &tracepb.ResourceSpans{
		ScopeSpans: []*tracepb.ScopeSpans{{
			Scope: &commonpb.InstrumentationScope{
				Name:    s.InstrumentationScope().Name,
				Version: s.InstrumentationScope().Version,
			},
			Spans: []*tracepb.Span{span},
		}},
	}
	if res := s.Resource(); res != nil {
		rs.Resource = &resourcepb.Resource{Attributes: keyValues(res.Attributes())}
		rs.SchemaUrl = res.SchemaURL()
	}
	return rs
}

func status(st sdktrace.Status) *tracepb.Status {
	out := &tracepb.Status{Message: st.Description}
	switch st.Code {
	case codes.Ok:
		out.Code = tracepb.Status_STATUS_CODE_OK
	case codes.Error:
		out.Code = tracepb.Status_STATUS_CODE_ERROR
	default:
		out.Code = tracepb.Status_STATUS_CODE_UNSET
	}
	return out
}

func keyValues(attrs []attribute.KeyValue) []*commonpb.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]*commonpb.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		out = append(out, &commonpb.KeyValue{Key: string(kv.Key), Value: anyValue(kv.Value)})
	}
	return out
}

func anyValue(v attribute.Value) *commonpb.AnyValue {
	switch v.Type() {
	case attribute.BOOL:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_BoolValue{BoolValue: v.AsBool()}}
	case attribute.INT64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: v.AsInt64()}}
	case attribute.FLOAT64:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_DoubleValue{DoubleValue: v.AsFloat64()}}
	case attribute.STRING:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v.AsString()}}
	case attribute.STRINGSLICE:
		values := make([]*commonpb.AnyValue, 0, len(v.AsStringSlice()))
		for _, s := range v.AsStringSlice() {
			values = append(values, &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}})
		}
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_ArrayValue{ArrayValue: &commonpb.ArrayValue{Values: values}}}
	default:
		return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: v.Emit()}}
	}
}
