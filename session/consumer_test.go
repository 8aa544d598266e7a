package session

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/telemetry"
)

func TestConsumer_WritesFragmentsInOrder(t *testing.T) {
	m := &scriptModel{turns: []scriptTurn{
		{
			partials: []string{"Plan: ", "Visit ", "Paris."},
			final:    finalText("Plan: Visit Paris.", "stop", model.TokenUsage{TotalTokens: 12}),
		},
	}}

	sess := New(m)

	frags, errs, err := sess.Run(context.Background(), "Plan a trip.")
	assert.NoError(t, err)

	var buf bytes.Buffer
	rec, runErr := NewConsumer(&buf).Consume(sess, frags, errs)
	assert.NoError(t, runErr)

	assert.Equal(t, "Plan: Visit Paris.", buf.String())
	assert.Equal(t, 12, rec[telemetry.KeyTokenCount])
	assert.Equal(t, "stop", rec[telemetry.KeyFinishReason])
}

func TestConsumer_FailureKeepsWrittenOutput(t *testing.T) {
	cause := &model.TransportError{Provider: "test", Err: errors.New("reset")}
	m := &scriptModel{turns: []scriptTurn{
		{partials: []string{"partial "}, err: cause},
	}}

	sess := New(m)

	frags, errs, err := sess.Run(context.Background(), "prompt")
	assert.NoError(t, err)

	var buf bytes.Buffer
	rec, runErr := NewConsumer(&buf).Consume(sess, frags, errs)

	// Output written before the failure stands, and the record is still
	// assembled for export.
	assert.Equal(t, "partial ", buf.String())
	assert.Error(t, runErr)
	assert.NotNil(t, rec)

	var te *model.TransportError
	assert.True(t, errors.As(runErr, &te))
}

// failWriter fails every write.
type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) { return 0, errors.New("sink closed") }

func TestConsumer_WriteError(t *testing.T) {
	m := &scriptModel{turns: []scriptTurn{
		{
			partials: []string{"text"},
			final:    finalText("text", "stop", model.TokenUsage{TotalTokens: 1}),
		},
	}}

	sess := New(m)

	frags, errs, err := sess.Run(context.Background(), "prompt")
	assert.NoError(t, err)

	_, runErr := NewConsumer(failWriter{}).Consume(sess, frags, errs)
	assert.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "sink closed")
}
