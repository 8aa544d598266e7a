package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/telemetry"
	"github.com/hupe1980/agentrun/tool"
)

// State describes the lifecycle of a session run.
type State int32

const (
	// StateNotStarted is the initial state before Run produced anything.
	StateNotStarted State = iota
	// StateStreaming is entered on the first emitted fragment.
	StateStreaming
	// StateCompleted is the terminal state of a normally exhausted run.
	StateCompleted
	// StateFailed is the terminal state after a propagated transport error.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Fragment is one incremental piece of the streamed response. Ordering is
// significant: fragments carry a monotonically increasing index and must be
// displayed in production order.
type Fragment struct {
	ID    string
	Index int
	Text  string
}

// ErrSessionConsumed is returned by Run when the session's single prompt has
// already been submitted. Sequences are non-restartable; create a new session
// for another prompt.
var ErrSessionConsumed = errors.New("session already consumed: one prompt per session")

// Options configure a Session.
type Options struct {
	// Instruction is the system prompt source.
	Instruction Instruction
	// Registry supplies the callable tools. Nil means no tools.
	Registry *tool.Registry
	// Tracer produces the session and tool spans. Nil disables tracing.
	Tracer trace.Tracer
	// Logger receives structured run diagnostics.
	Logger logging.Logger
	// CaptureContent gates prompt/response text on spans.
	CaptureContent bool
	// MaxTurns bounds the model/tool loop as a runaway guard.
	MaxTurns int
}

// Session wraps a chat model with instructions and a tool registry. Exactly
// one prompt may be submitted per Session instance; the session must not be
// used concurrently from multiple callers.
type Session struct {
	id             string
	model          model.Model
	instruction    Instruction
	registry       *tool.Registry
	tracer         trace.Tracer
	logger         logging.Logger
	captureContent bool
	maxTurns       int

	state    atomic.Int32
	consumed atomic.Bool

	mu           sync.RWMutex
	usage        model.TokenUsage
	finishReason string
	spanCtx      trace.SpanContext
}

// New creates a session bound to the given model with sensible defaults.
func New(m model.Model, optFns ...func(o *Options)) *Session {
	opts := Options{
		Instruction: NewInstructionFromText("You are a helpful AI assistant."),
		Logger:      logging.NoOpLogger{},
		MaxTurns:    8,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Registry == nil {
		opts.Registry, _ = tool.NewRegistry()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.Tracer{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Session{
		id:             uuid.NewString(),
		model:          m,
		instruction:    opts.Instruction,
		registry:       opts.Registry,
		tracer:         opts.Tracer,
		logger:         opts.Logger,
		captureContent: opts.CaptureContent,
		maxTurns:       opts.MaxTurns,
	}
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Usage returns the accumulated token usage. Meaningful after the run ended.
func (s *Session) Usage() model.TokenUsage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage
}

// FinishReason returns the terminal finish reason reported by the model.
func (s *Session) FinishReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finishReason
}

// SpanContext returns the trace context of the session span. It is invalid
// (zero) when the session ran without a tracer.
func (s *Session) SpanContext() trace.SpanContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spanCtx
}

// Record assembles the flat telemetry record for this session run. A missing
// trace context yields a record without identifier keys, never an error.
func (s *Session) Record() telemetry.Record {
	info := s.model.Info()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return telemetry.NewRecord(telemetry.RecordParams{
		SpanContext:   s.spanCtx,
		OperationName: "chat " + info.Name,
		RequestModel:  info.Name,
		ResponseModel: info.Name,
		Vendor:        info.Provider,
		TokenCount:    s.usage.TotalTokens,
		FinishReason:  s.finishReason,
	})
}

// Run submits the single prompt and returns the fragment and error channels.
// The fragment channel is closed when the response is complete or the run
// failed; a value on the error channel terminates the sequence abnormally.
// A second call returns ErrSessionConsumed.
func (s *Session) Run(ctx context.Context, prompt string) (<-chan Fragment, <-chan error, error) {
	if !s.consumed.CompareAndSwap(false, true) {
		return nil, nil, ErrSessionConsumed
	}

	frags := make(chan Fragment, 64)
	errs := make(chan error, 1)

	go s.run(ctx, prompt, frags, errs)

	return frags, errs, nil
}

func (s *Session) run(ctx context.Context, prompt string, frags chan<- Fragment, errs chan<- error) {
	defer close(frags)
	defer close(errs)

	info := s.model.Info()

	ctx, span := s.tracer.Start(ctx, "chat "+info.Name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	s.mu.Lock()
	s.spanCtx = span.SpanContext()
	s.mu.Unlock()

	if s.captureContent {
		span.SetAttributes(attribute.String("gen_ai.prompt", prompt))
	}

	fail := func(err error) {
		s.state.Store(int32(StateFailed))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		errs <- err
	}

	instructions, err := s.instruction.Resolve(ctx)
	if err != nil {
		fail(fmt.Errorf("resolve instructions: %w", err))
		return
	}

	contents := []model.Content{model.NewUserText(prompt)}
	index := 0

	for turn := 0; turn < s.maxTurns; turn++ {
		req := model.Request{
			Instructions: instructions,
			Contents:     contents,
			Tools:        s.registry.Definitions(),
			Stream:       true,
		}

		start := time.Now()
		final, err := s.turn(ctx, req, frags, &index)
		if err != nil {
			logging.LogModelCall(s.logger, info.Name, 0, time.Since(start), err)
			fail(err)
			return
		}

		var turnUsage model.TokenUsage
		if final.Usage != nil {
			turnUsage = *final.Usage
		}
		logging.LogModelCall(s.logger, info.Name, turnUsage.TotalTokens, time.Since(start), nil)

		s.mu.Lock()
		s.usage.Add(turnUsage)
		s.finishReason = final.FinishReason
		s.mu.Unlock()

		contents = append(contents, final.Content)

		calls := final.Content.FunctionCalls()
		if len(calls) == 0 {
			s.state.Store(int32(StateCompleted))
			if s.captureContent {
				span.SetAttributes(attribute.String("gen_ai.completion", final.Content.Text()))
			}
			span.SetAttributes(s.Record().Attributes()...)
			return
		}

		for _, call := range calls {
			result, callErr := s.executeTool(ctx, call)
			// Tool failures are surfaced to the model, not the caller; the
			// next turn decides how to proceed.
			contents = append(contents, model.NewToolResponse(call.ID, call.Name, result, callErr))
		}
	}

	fail(fmt.Errorf("exceeded %d model turns without final response", s.maxTurns))
}

// turn drives one model generation, forwarding partial text as fragments and
// returning the final response. The response channel is fully drained before
// an error is returned so fragments produced ahead of a failure are never
// dropped.
func (s *Session) turn(
	ctx context.Context,
	req model.Request,
	frags chan<- Fragment,
	index *int,
) (*model.Response, error) {
	respCh, errCh := s.model.Generate(ctx, req)

	var final *model.Response
	var runErr error

	for respCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				text := resp.Content.Text()
				if text == "" {
					// Tool-call deltas carry no displayable text.
					continue
				}
				s.state.CompareAndSwap(int32(StateNotStarted), int32(StateStreaming))
				f := Fragment{ID: uuid.NewString(), Index: *index, Text: text}
				*index++
				select {
				case frags <- f:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				continue
			}
			r := resp
			final = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && runErr == nil {
				runErr = err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if errCh != nil {
		if err, ok := <-errCh; ok && err != nil && runErr == nil {
			runErr = err
		}
	}

	if runErr != nil {
		return nil, runErr
	}
	if final == nil {
		return nil, fmt.Errorf("model stream ended without final response")
	}

	return final, nil
}

// executeTool runs a single requested tool call inside its own child span.
func (s *Session) executeTool(ctx context.Context, call model.FunctionCall) (any, error) {
	ctx, span := s.tracer.Start(ctx, "execute_tool "+call.Name)
	defer span.End()

	span.SetAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	)
	if s.captureContent && call.Arguments != "" {
		span.SetAttributes(attribute.String("tool.arguments", call.Arguments))
	}

	t, ok := s.registry.Get(call.Name)
	if !ok {
		err := tool.NewToolError(call.Name, "tool not registered", "UNKNOWN_TOOL")
		span.RecordError(err)
		return nil, err
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			toolErr := tool.NewToolError(call.Name, fmt.Sprintf("unmarshal arguments: %v", err), "INVALID_ARGUMENTS")
			span.RecordError(toolErr)
			return nil, toolErr
		}
	}

	tc := tool.NewContext(ctx, s.id, call.ID, s.logger)

	start := time.Now()
	result, err := t.Call(tc, args)
	logging.LogToolCall(s.logger, call.Name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return result, nil
}
