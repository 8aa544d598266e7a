package session

import (
	"fmt"
	"io"

	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/telemetry"
)

// ConsumerOptions configure a Consumer.
type ConsumerOptions struct {
	Logger logging.Logger
}

// Consumer drains a session's fragment stream into an output sink, writing
// each fragment immediately in production order, then assembles the session's
// telemetry record.
type Consumer struct {
	out    io.Writer
	logger logging.Logger
}

// NewConsumer creates a consumer writing to out.
func NewConsumer(out io.Writer, optFns ...func(o *ConsumerOptions)) *Consumer {
	opts := ConsumerOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Consumer{out: out, logger: opts.Logger}
}

// Consume writes every fragment to the sink as it arrives and, once the
// sequence is exhausted, returns the telemetry record assembled from the
// completed session. The record is returned regardless of failure so a
// partial run can still be exported; the error reports the terminal failure,
// if any. Fragments written before a failure are not retracted.
func (c *Consumer) Consume(sess *Session, frags <-chan Fragment, errs <-chan error) (telemetry.Record, error) {
	var runErr error

	for frags != nil || errs != nil {
		select {
		case f, ok := <-frags:
			if !ok {
				frags = nil
				continue
			}
			if _, err := io.WriteString(c.out, f.Text); err != nil && runErr == nil {
				runErr = fmt.Errorf("write fragment %d: %w", f.Index, err)
			}
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

	rec := sess.Record()
	c.logger.Debug("session consumed", "session_id", sess.ID(), "state", sess.State().String())

	return rec, runErr
}
