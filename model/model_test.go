package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// drain collects everything from a Generate call.
func drain(respCh <-chan Response, errCh <-chan error) ([]Response, error) {
	var responses []Response
	var runErr error

	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			responses = append(responses, resp)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && runErr == nil {
				runErr = err
			}
		}
	}

	return responses, runErr
}

func TestMockModel_Streaming(t *testing.T) {
	m := NewMockModel("mock-model", "mock")
	m.AddResponse("hi", "Hello!")

	respCh, errCh := m.Generate(context.Background(), Request{
		Contents: []Content{NewUserText("hi")},
		Stream:   true,
	})

	responses, err := drain(respCh, errCh)
	assert.NoError(t, err)

	// One partial per rune, then the final response.
	assert.Len(t, responses, len("Hello!")+1)

	var streamed string
	for _, resp := range responses[:len(responses)-1] {
		assert.True(t, resp.Partial)
		streamed += resp.Content.Text()
	}
	assert.Equal(t, "Hello!", streamed)

	final := responses[len(responses)-1]
	assert.False(t, final.Partial)
	assert.Equal(t, "Hello!", final.Content.Text())
	assert.Equal(t, "stop", final.FinishReason)
	assert.NotNil(t, final.Usage)
}

func TestMockModel_NonStreaming(t *testing.T) {
	m := NewMockModel("mock-model", "mock")
	m.SetUsage(TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})

	respCh, errCh := m.Generate(context.Background(), Request{
		Contents: []Content{NewUserText("anything")},
	})

	responses, err := drain(respCh, errCh)
	assert.NoError(t, err)
	assert.Len(t, responses, 1)
	assert.Equal(t, 15, responses[0].Usage.TotalTokens)
}

func TestMockModel_NoContents(t *testing.T) {
	m := NewMockModel("mock-model", "mock")

	respCh, errCh := m.Generate(context.Background(), Request{})

	responses, err := drain(respCh, errCh)
	assert.Empty(t, responses)

	var te *TransportError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, "mock", te.Provider)
}

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}
	u.Add(TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30})

	assert.Equal(t, TokenUsage{PromptTokens: 11, CompletionTokens: 22, TotalTokens: 33}, u)
}

func TestTransportError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &TransportError{Provider: "openai", Err: cause}

	assert.Equal(t, "transport error (openai): connection refused", err.Error())
	assert.True(t, errors.Is(err, cause))
}

func TestContent_TextAndFunctionCalls(t *testing.T) {
	c := Content{
		Role: "assistant",
		Parts: []Part{
			TextPart{Text: "Let me check. "},
			FunctionCallPart{FunctionCall: FunctionCall{ID: "fc1", Name: "get_weather", Arguments: `{"location":"Paris"}`}},
			TextPart{Text: "One moment."},
		},
	}

	assert.Equal(t, "Let me check. One moment.", c.Text())

	calls := c.FunctionCalls()
	assert.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Name)
}

func TestNewToolResponse(t *testing.T) {
	c := NewToolResponse("fc1", "get_weather", "cloudy", nil)
	assert.Equal(t, "tool", c.Role)

	part := c.Parts[0].(FunctionResponsePart)
	assert.Equal(t, "cloudy", part.FunctionResponse.Response)
	assert.Empty(t, part.FunctionResponse.Error)

	c = NewToolResponse("fc2", "get_weather", nil, errors.New("unavailable"))
	part = c.Parts[0].(FunctionResponsePart)
	assert.Equal(t, "unavailable", part.FunctionResponse.Error)
}
