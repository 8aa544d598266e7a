// Package telemetry bootstraps OpenTelemetry tracing for agentrun and defines
// the flat telemetry record exported for every completed session.
//
// Start constructs a batching tracer provider backed by an OTLP gRPC exporter
// (or a stdout exporter when no endpoint is configured) and returns a Handle
// whose Flush and Shutdown operations are bounded and idempotent. Export
// failures are logged and never propagate to the primary flow: a run that
// produced its output exits cleanly even when the telemetry backend is down.
//
// Record is the schema contract with the observability backend. Its key set is
// stable; consumers assemble exactly one Record per session run, referencing
// that run's trace and span identifiers.
package telemetry
