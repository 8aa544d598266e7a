package telemetry

import (
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Record keys. This key set is a contract with the observability backend and
// must not be renamed without coordinating a backend schema change.
const (
	KeyTraceID       = "trace_id"
	KeySpanID        = "span_id"
	KeyOperationName = "operation_name"
	KeyOperationType = "operation_type"
	KeyRequestModel  = "request.model"
	KeyResponseModel = "response.model"
	KeyVendor        = "vendor"
	KeyTokenCount    = "token_count"
	KeyFinishReason  = "response.choices.finish_reason"
	KeyAIEnabled     = "ai.enabled"
)

// OperationTypeChat marks a record as a language-model chat operation.
const OperationTypeChat = "chat"

// Record is a flat mapping of string keys to scalar values describing one
// completed session run. It is assembled once, after streaming finishes, and
// handed to the export boundary. Records are not persisted locally.
type Record map[string]any

// RecordParams carry the completion metadata a Record is assembled from.
type RecordParams struct {
	// SpanContext of the session span. An invalid context is tolerated:
	// the identifier keys are simply absent from the record.
	SpanContext trace.SpanContext
	// OperationName names the span, e.g. "chat gpt-4o-mini".
	OperationName string
	// RequestModel is the model identifier sent with the request.
	RequestModel string
	// ResponseModel is the model identifier reported by the endpoint.
	ResponseModel string
	// Vendor names the serving provider, e.g. "openai".
	Vendor string
	// TokenCount is the total token usage of the run.
	TokenCount int
	// FinishReason is the terminal finish reason, e.g. "stop".
	FinishReason string
}

// NewRecord assembles a Record from completion metadata. Absent optional
// metadata yields absent keys, never an error.
func NewRecord(p RecordParams) Record {
	rec := Record{
		KeyOperationType: OperationTypeChat,
		KeyAIEnabled:     true,
		KeyTokenCount:    p.TokenCount,
	}

	if p.SpanContext.IsValid() {
		rec[KeyTraceID] = p.SpanContext.TraceID().String()
		rec[KeySpanID] = p.SpanContext.SpanID().String()
	}
	if p.OperationName != "" {
		rec[KeyOperationName] = p.OperationName
	}
	if p.RequestModel != "" {
		rec[KeyRequestModel] = p.RequestModel
	}
	if p.ResponseModel != "" {
		rec[KeyResponseModel] = p.ResponseModel
	}
	if p.Vendor != "" {
		rec[KeyVendor] = p.Vendor
	}
	if p.FinishReason != "" {
		rec[KeyFinishReason] = p.FinishReason
	}

	return rec
}

// Attributes converts the record into span attributes with a stable key order.
func (r Record) Attributes() []attribute.KeyValue {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := r[k].(type) {
		case string:
			attrs = append(attrs, attribute.String(k, v))
		case bool:
			attrs = append(attrs, attribute.Bool(k, v))
		case int:
			attrs = append(attrs, attribute.Int(k, v))
		case int64:
			attrs = append(attrs, attribute.Int64(k, v))
		case float64:
			attrs = append(attrs, attribute.Float64(k, v))
		}
	}

	return attrs
}
