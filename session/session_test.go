package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/telemetry"
	"github.com/hupe1980/agentrun/tool"
)

// scriptTurn describes one scripted Generate call: partial chunks followed by
// either a final response or an error.
type scriptTurn struct {
	partials []string
	final    model.Response
	err      error
}

// scriptModel plays back a fixed sequence of turns and records the requests
// it received.
type scriptModel struct {
	turns []scriptTurn
	reqs  []model.Request
}

func (m *scriptModel) Info() model.Info {
	return model.Info{Name: "script-model", Provider: "test", SupportsTools: true}
}

func (m *scriptModel) Generate(_ context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	m.reqs = append(m.reqs, req)

	respCh := make(chan model.Response, 16)
	errCh := make(chan error, 1)

	if len(m.reqs) > len(m.turns) {
		close(respCh)
		errCh <- fmt.Errorf("unexpected generate call %d", len(m.reqs))
		close(errCh)
		return respCh, errCh
	}
	turn := m.turns[len(m.reqs)-1]

	go func() {
		defer close(respCh)
		defer close(errCh)

		for _, p := range turn.partials {
			respCh <- model.Response{
				Partial: true,
				Content: model.Content{Role: "assistant", Parts: []model.Part{model.TextPart{Text: p}}},
			}
		}
		if turn.err != nil {
			errCh <- turn.err
			return
		}
		respCh <- turn.final
	}()

	return respCh, errCh
}

func finalText(text, finishReason string, usage model.TokenUsage) model.Response {
	u := usage
	return model.Response{
		Partial:      false,
		Content:      model.Content{Role: "assistant", Parts: []model.Part{model.TextPart{Text: text}}},
		FinishReason: finishReason,
		Usage:        &u,
	}
}

func finalToolCall(id, name, args string, usage model.TokenUsage) model.Response {
	u := usage
	return model.Response{
		Partial: false,
		Content: model.Content{
			Role:  "assistant",
			Parts: []model.Part{model.FunctionCallPart{FunctionCall: model.FunctionCall{ID: id, Name: name, Arguments: args}}},
		},
		FinishReason: "tool_calls",
		Usage:        &u,
	}
}

func collect(frags <-chan Fragment, errs <-chan error) ([]Fragment, error) {
	var out []Fragment
	var runErr error
	for frags != nil || errs != nil {
		select {
		case f, ok := <-frags:
			if !ok {
				frags = nil
				continue
			}
			out = append(out, f)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && runErr == nil {
				runErr = err
			}
		}
	}
	return out, runErr
}

// -------------------- Session Tests --------------------

func TestSession_StreamsFragmentsInOrder(t *testing.T) {
	m := &scriptModel{turns: []scriptTurn{
		{
			partials: []string{"Plan: ", "Visit Paris."},
			final:    finalText("Plan: Visit Paris.", "stop", model.TokenUsage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12}),
		},
	}}

	sess := New(m, func(o *Options) {
		o.Instruction = NewInstructionFromText("You plan trips.")
	})
	assert.Equal(t, StateNotStarted, sess.State())

	frags, errs, err := sess.Run(context.Background(), "Plan a trip.")
	assert.NoError(t, err)

	fragments, runErr := collect(frags, errs)
	assert.NoError(t, runErr)

	assert.Len(t, fragments, 2)
	assert.Equal(t, "Plan: ", fragments[0].Text)
	assert.Equal(t, "Visit Paris.", fragments[1].Text)
	assert.Equal(t, 0, fragments[0].Index)
	assert.Equal(t, 1, fragments[1].Index)

	assert.Equal(t, StateCompleted, sess.State())
	assert.Equal(t, 12, sess.Usage().TotalTokens)
	assert.Equal(t, "stop", sess.FinishReason())

	// The scripted request carries the resolved instructions and streaming flag.
	assert.Len(t, m.reqs, 1)
	assert.Equal(t, "You plan trips.", m.reqs[0].Instructions)
	assert.True(t, m.reqs[0].Stream)
}

func TestSession_SecondRunConsumed(t *testing.T) {
	m := &scriptModel{turns: []scriptTurn{
		{final: finalText("done", "stop", model.TokenUsage{TotalTokens: 1})},
	}}

	sess := New(m)

	frags, errs, err := sess.Run(context.Background(), "first")
	assert.NoError(t, err)
	_, _ = collect(frags, errs)

	_, _, err = sess.Run(context.Background(), "second")
	assert.ErrorIs(t, err, ErrSessionConsumed)
	assert.Len(t, m.reqs, 1)
}

func TestSession_MidStreamErrorKeepsFragments(t *testing.T) {
	cause := &model.TransportError{Provider: "test", Err: errors.New("connection reset")}
	m := &scriptModel{turns: []scriptTurn{
		{partials: []string{"partial "}, err: cause},
	}}

	sess := New(m)

	frags, errs, err := sess.Run(context.Background(), "prompt")
	assert.NoError(t, err)

	fragments, runErr := collect(frags, errs)

	// Fragments produced before the failure are delivered, never retracted.
	assert.Len(t, fragments, 1)
	assert.Equal(t, "partial ", fragments[0].Text)

	var te *model.TransportError
	assert.True(t, errors.As(runErr, &te))
	assert.Equal(t, StateFailed, sess.State())
}

func TestSession_ToolCallLoop(t *testing.T) {
	registry, err := tool.NewRegistry(tool.NewWeatherTool())
	assert.NoError(t, err)

	m := &scriptModel{turns: []scriptTurn{
		{final: finalToolCall("fc1", "get_weather", `{"location":"Paris, France"}`, model.TokenUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12})},
		{
			partials: []string{"It is cloudy."},
			final:    finalText("It is cloudy.", "stop", model.TokenUsage{PromptTokens: 20, CompletionTokens: 5, TotalTokens: 25}),
		},
	}}

	sess := New(m, func(o *Options) {
		o.Registry = registry
	})

	frags, errs, err := sess.Run(context.Background(), "Weather in Paris?")
	assert.NoError(t, err)

	fragments, runErr := collect(frags, errs)
	assert.NoError(t, runErr)
	assert.Len(t, fragments, 1)
	assert.Equal(t, "It is cloudy.", fragments[0].Text)

	// Second request contains prompt, assistant tool call and tool result.
	assert.Len(t, m.reqs, 2)
	contents := m.reqs[1].Contents
	assert.Len(t, contents, 3)
	assert.Equal(t, "tool", contents[2].Role)

	part := contents[2].Parts[0].(model.FunctionResponsePart)
	assert.Equal(t, "fc1", part.FunctionResponse.ID)
	assert.Contains(t, part.FunctionResponse.Response, "cloudy")
	assert.Empty(t, part.FunctionResponse.Error)

	// Usage accumulates across turns.
	assert.Equal(t, 37, sess.Usage().TotalTokens)
	assert.Equal(t, "stop", sess.FinishReason())
	assert.Equal(t, StateCompleted, sess.State())
}

func TestSession_UnknownToolFedBackToModel(t *testing.T) {
	m := &scriptModel{turns: []scriptTurn{
		{final: finalToolCall("fc1", "nope", `{}`, model.TokenUsage{TotalTokens: 1})},
		{final: finalText("I cannot do that.", "stop", model.TokenUsage{TotalTokens: 2})},
	}}

	sess := New(m)

	frags, errs, err := sess.Run(context.Background(), "prompt")
	assert.NoError(t, err)

	_, runErr := collect(frags, errs)
	// A failing tool is reported to the model, not to the caller.
	assert.NoError(t, runErr)
	assert.Equal(t, StateCompleted, sess.State())

	part := m.reqs[1].Contents[2].Parts[0].(model.FunctionResponsePart)
	assert.Contains(t, part.FunctionResponse.Error, "UNKNOWN_TOOL")
}

func TestSession_InvalidToolArguments(t *testing.T) {
	registry, err := tool.NewRegistry(tool.NewWeatherTool())
	assert.NoError(t, err)

	m := &scriptModel{turns: []scriptTurn{
		{final: finalToolCall("fc1", "get_weather", `{broken`, model.TokenUsage{TotalTokens: 1})},
		{final: finalText("Sorry.", "stop", model.TokenUsage{TotalTokens: 2})},
	}}

	sess := New(m, func(o *Options) {
		o.Registry = registry
	})

	frags, errs, err := sess.Run(context.Background(), "prompt")
	assert.NoError(t, err)

	_, runErr := collect(frags, errs)
	assert.NoError(t, runErr)

	part := m.reqs[1].Contents[2].Parts[0].(model.FunctionResponsePart)
	assert.Contains(t, part.FunctionResponse.Error, "INVALID_ARGUMENTS")
}

func TestSession_MaxTurnsExceeded(t *testing.T) {
	registry, err := tool.NewRegistry(tool.NewWeatherTool())
	assert.NoError(t, err)

	call := finalToolCall("fc1", "get_weather", `{"location":"Paris"}`, model.TokenUsage{TotalTokens: 1})
	m := &scriptModel{turns: []scriptTurn{{final: call}, {final: call}}}

	sess := New(m, func(o *Options) {
		o.Registry = registry
		o.MaxTurns = 2
	})

	frags, errs, err := sess.Run(context.Background(), "prompt")
	assert.NoError(t, err)

	_, runErr := collect(frags, errs)
	assert.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "model turns")
	assert.Equal(t, StateFailed, sess.State())
}

// recordingLogger captures structured log entries for assertions.
type recordingLogger struct {
	entries []logEntry
}

type logEntry struct {
	msg  string
	args map[string]any
}

func (l *recordingLogger) log(msg string, args ...any) {
	fields := map[string]any{}
	for i := 0; i+1 < len(args); i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	l.entries = append(l.entries, logEntry{msg: msg, args: fields})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.log(msg, args...) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.log(msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.log(msg, args...) }
func (l *recordingLogger) Error(msg string, args ...any) { l.log(msg, args...) }

func (l *recordingLogger) find(msg string) []logEntry {
	var out []logEntry
	for _, e := range l.entries {
		if e.msg == msg {
			out = append(out, e)
		}
	}
	return out
}

func TestSession_LogsPerTurnTokenUsage(t *testing.T) {
	registry, err := tool.NewRegistry(tool.NewWeatherTool())
	assert.NoError(t, err)

	m := &scriptModel{turns: []scriptTurn{
		{final: finalToolCall("fc1", "get_weather", `{"location":"Paris"}`, model.TokenUsage{TotalTokens: 12})},
		{final: finalText("Cloudy.", "stop", model.TokenUsage{TotalTokens: 25})},
	}}

	logger := &recordingLogger{}
	sess := New(m, func(o *Options) {
		o.Registry = registry
		o.Logger = logger
	})

	frags, errs, err := sess.Run(context.Background(), "prompt")
	assert.NoError(t, err)
	_, runErr := collect(frags, errs)
	assert.NoError(t, runErr)

	// Each completed model call logs its own turn's usage.
	calls := logger.find("model call completed")
	assert.Len(t, calls, 2)
	assert.Equal(t, 12, calls[0].args["token_count"])
	assert.Equal(t, 25, calls[1].args["token_count"])
}

func TestSession_RecordWithTracer(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	registry, err := tool.NewRegistry(tool.NewWeatherTool())
	assert.NoError(t, err)

	m := &scriptModel{turns: []scriptTurn{
		{final: finalToolCall("fc1", "get_weather", `{"location":"Paris"}`, model.TokenUsage{TotalTokens: 12})},
		{final: finalText("Cloudy.", "stop", model.TokenUsage{TotalTokens: 30})},
	}}

	sess := New(m, func(o *Options) {
		o.Registry = registry
		o.Tracer = tp.Tracer("test")
	})

	frags, errs, err := sess.Run(context.Background(), "prompt")
	assert.NoError(t, err)
	_, runErr := collect(frags, errs)
	assert.NoError(t, runErr)

	rec := sess.Record()
	assert.Equal(t, sess.SpanContext().TraceID().String(), rec[telemetry.KeyTraceID])
	assert.Equal(t, "chat script-model", rec[telemetry.KeyOperationName])
	assert.Equal(t, "test", rec[telemetry.KeyVendor])
	assert.Equal(t, 42, rec[telemetry.KeyTokenCount])
	assert.Equal(t, "stop", rec[telemetry.KeyFinishReason])
	assert.Equal(t, true, rec[telemetry.KeyAIEnabled])

	// One session span plus one tool span were exported.
	spans := exporter.GetSpans()
	assert.Len(t, spans, 2)

	names := []string{spans[0].Name, spans[1].Name}
	assert.Contains(t, names, "chat script-model")
	assert.Contains(t, names, "execute_tool get_weather")
}

func TestSession_RecordWithoutTracer(t *testing.T) {
	m := &scriptModel{turns: []scriptTurn{
		{final: finalText("ok", "stop", model.TokenUsage{TotalTokens: 3})},
	}}

	sess := New(m)

	frags, errs, err := sess.Run(context.Background(), "prompt")
	assert.NoError(t, err)
	_, _ = collect(frags, errs)

	rec := sess.Record()
	assert.NotContains(t, rec, telemetry.KeyTraceID)
	assert.NotContains(t, rec, telemetry.KeySpanID)
	assert.Equal(t, 3, rec[telemetry.KeyTokenCount])
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "not_started", StateNotStarted.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(99).String())
}

// -------------------- Instruction Tests --------------------

func TestInstruction_Static(t *testing.T) {
	i := NewInstructionFromText("static text")
	assert.True(t, i.IsStatic())

	text, err := i.Resolve(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "static text", text)
}

func TestInstruction_Func(t *testing.T) {
	i := NewInstructionFromFunc(func(_ context.Context) (string, error) {
		return "dynamic text", nil
	})
	assert.False(t, i.IsStatic())

	text, err := i.Resolve(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "dynamic text", text)
}

func TestInstruction_ProviderError(t *testing.T) {
	i := NewInstructionFromFunc(func(_ context.Context) (string, error) {
		return "", errors.New("store unavailable")
	})

	m := &scriptModel{}
	sess := New(m, func(o *Options) {
		o.Instruction = i
	})

	frags, errs, err := sess.Run(context.Background(), "prompt")
	assert.NoError(t, err)

	_, runErr := collect(frags, errs)
	assert.Error(t, runErr)
	assert.Equal(t, StateFailed, sess.State())
	// The model was never called.
	assert.Empty(t, m.reqs)
}
