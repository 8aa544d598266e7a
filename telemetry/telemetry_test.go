package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func validSpanContext() trace.SpanContext {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})
}

// -------------------- Handle Tests --------------------

func TestStart_ExportsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()

	handle, err := Start(func(o *Options) {
		o.ServiceName = "test-service"
		o.Exporter = exporter
	})
	assert.NoError(t, err)

	_, span := handle.Tracer().Start(context.Background(), "chat test-model")
	span.End()

	assert.NoError(t, handle.Flush(context.Background()))

	spans := exporter.GetSpans()
	assert.Len(t, spans, 1)
	assert.Equal(t, "chat test-model", spans[0].Name)
}

func TestHandle_FlushIdempotent(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()

	handle, err := Start(func(o *Options) {
		o.Exporter = exporter
	})
	assert.NoError(t, err)

	_, span := handle.Tracer().Start(context.Background(), "op")
	span.End()

	assert.NoError(t, handle.Flush(context.Background()))
	assert.Len(t, exporter.GetSpans(), 1)

	// A second flush neither errors nor re-delivers the exported span.
	assert.NoError(t, handle.Flush(context.Background()))
	assert.Len(t, exporter.GetSpans(), 1)
}

func TestHandle_NilSafe(t *testing.T) {
	var handle *Handle

	assert.NotNil(t, handle.Tracer())
	assert.NoError(t, handle.Flush(context.Background()))
	assert.NoError(t, handle.Shutdown(context.Background()))
}

func TestHandle_ShutdownIdempotent(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()

	handle, err := Start(func(o *Options) {
		o.Exporter = exporter
	})
	assert.NoError(t, err)

	assert.NoError(t, handle.Shutdown(context.Background()))
	assert.NoError(t, handle.Shutdown(context.Background()))
}

// -------------------- Record Tests --------------------

func TestNewRecord_FullMetadata(t *testing.T) {
	sc := validSpanContext()

	rec := NewRecord(RecordParams{
		SpanContext:   sc,
		OperationName: "chat gpt-4o-mini",
		RequestModel:  "gpt-4o-mini",
		ResponseModel: "gpt-4o-mini",
		Vendor:        "openai",
		TokenCount:    42,
		FinishReason:  "stop",
	})

	assert.Equal(t, sc.TraceID().String(), rec[KeyTraceID])
	assert.Equal(t, sc.SpanID().String(), rec[KeySpanID])
	assert.Equal(t, "chat gpt-4o-mini", rec[KeyOperationName])
	assert.Equal(t, OperationTypeChat, rec[KeyOperationType])
	assert.Equal(t, "gpt-4o-mini", rec[KeyRequestModel])
	assert.Equal(t, "gpt-4o-mini", rec[KeyResponseModel])
	assert.Equal(t, "openai", rec[KeyVendor])
	assert.Equal(t, 42, rec[KeyTokenCount])
	assert.Equal(t, "stop", rec[KeyFinishReason])
	assert.Equal(t, true, rec[KeyAIEnabled])
}

func TestNewRecord_InvalidSpanContext(t *testing.T) {
	rec := NewRecord(RecordParams{
		OperationName: "chat mock",
		TokenCount:    7,
	})

	assert.NotContains(t, rec, KeyTraceID)
	assert.NotContains(t, rec, KeySpanID)
	// Mandatory keys are present even with sparse metadata.
	assert.Equal(t, 7, rec[KeyTokenCount])
	assert.Equal(t, OperationTypeChat, rec[KeyOperationType])
	assert.Equal(t, true, rec[KeyAIEnabled])
}

func TestNewRecord_OmitsEmptyOptionalKeys(t *testing.T) {
	rec := NewRecord(RecordParams{TokenCount: 0})

	assert.NotContains(t, rec, KeyOperationName)
	assert.NotContains(t, rec, KeyVendor)
	assert.NotContains(t, rec, KeyFinishReason)
	assert.Equal(t, 0, rec[KeyTokenCount])
}

func TestRecord_Attributes(t *testing.T) {
	rec := Record{
		KeyVendor:     "openai",
		KeyTokenCount: 42,
		KeyAIEnabled:  true,
	}

	attrs := rec.Attributes()
	assert.Len(t, attrs, 3)

	// Keys are sorted for stable comparison downstream.
	assert.Equal(t, []attribute.KeyValue{
		attribute.Bool(KeyAIEnabled, true),
		attribute.Int(KeyTokenCount, 42),
		attribute.String(KeyVendor, "openai"),
	}, attrs)
}
