// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with hosted chat-completion models inside agentrun.
//
// Core goals:
//   - Unify streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, FunctionCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI-compatible endpoints, Anthropic) implement the Model
// interface from this package so higher layers (session, consumer) remain
// decoupled from vendor SDKs. Transport failures surface as *TransportError
// and terminate the run; they are never swallowed inside an adapter.
package model
