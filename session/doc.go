// Package session implements the telemetry-tagged streaming tool-call session.
//
// A Session binds exactly one model, one instruction source and one tool
// registry. Its single operation, Run, submits one prompt and produces a
// lazy, finite, non-restartable sequence of response fragments. While
// producing the response the session may invoke zero or more registered
// tools; invocation order and count are decided entirely by the model. The
// fragment stream preserves production order with no drops or duplicates,
// and a transport failure terminates the stream with the error delivered to
// the caller (fragments already produced stand).
//
// Every run is wrapped in one trace span; tool invocations become child
// spans. After completion, usage and trace metadata are reachable via the
// session's accessors and from Record, which assembles the flat telemetry
// record exported to the observability backend.
//
// The Consumer drains a run into an output sink, writing each fragment
// immediately in order, then assembles the session's telemetry record. A
// missing trace context degrades the record, it never fails it.
package session
