// Package tool implements the callable-capability subsystem that lets an agent
// session invoke named functions with schema validated arguments, consistent
// error handling and metadata for LLM guidance. The registry only supplies
// callable metadata; dispatch is driven by the session's reasoning loop.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrun/internal/util"
	"github.com/hupe1980/agentrun/logging"
)

// Tool defines the interface for extending agent capabilities with callable functions.
//
// Tools registered with a session become available for function calling,
// allowing the model to perform actions beyond text generation. Tool
// implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Return a result without mutating shared state
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	// It is provided to the LLM to help it understand when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with structured arguments and a per-invocation Context.
	// Arguments are parsed from JSON and validated against the tool's schema.
	Call(toolCtx *Context, args map[string]any) (any, error)
}

// Context provides a constrained, auditable surface for tool implementations
// invoked by a session. It carries the invocation's cancellation context, the
// function call identifier correlating model request and tool execution, and
// a logger.
type Context struct {
	ctx       context.Context
	sessionID string
	callID    string
	logger    logging.Logger
}

// NewContext constructs a tool context bound to a session run and a unique
// function call id.
func NewContext(ctx context.Context, sessionID, callID string, logger logging.Logger) *Context {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Context{ctx: ctx, sessionID: sessionID, callID: callID, logger: logger}
}

// Context returns the cancellation context of the invocation.
func (tc *Context) Context() context.Context { return tc.ctx }

// SessionID returns the session the invocation belongs to.
func (tc *Context) SessionID() string { return tc.sessionID }

// CallID returns the function call identifier.
func (tc *Context) CallID() string { return tc.callID }

// Logger returns the logger associated with the tool invocation.
func (tc *Context) Logger() logging.Logger { return tc.logger }

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
