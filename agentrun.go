// Package agentrun provides a high-level façade over the session, model,
// tool and telemetry packages for running a single telemetry-tagged
// streaming tool-call session against a hosted chat-completion endpoint.
// Most applications interact with this package by:
//  1. Creating an AgentRun via New() (optionally overriding config, model,
//     telemetry handle and logger)
//  2. Registering tools through Options.Tools
//  3. Running one prompt per session with Run, which streams the response to
//     an output sink and returns the assembled telemetry record
//
// Control flow per run: config -> telemetry bootstrap -> tool registry ->
// agent session -> streaming consumer -> flush. All defaults are safe for
// local development; production deployments typically configure an OTLP
// endpoint and a structured logger.
package agentrun

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hupe1980/agentrun/config"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/model"
	openaimodel "github.com/hupe1980/agentrun/model/openai"
	"github.com/hupe1980/agentrun/session"
	"github.com/hupe1980/agentrun/telemetry"
	"github.com/hupe1980/agentrun/tool"
)

// Options configure the AgentRun instance.
type Options struct {
	// Config overrides environment loading. Nil loads via config.Load.
	Config *config.Config
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
	// Telemetry reuses an existing handle. Nil bootstraps one from config.
	Telemetry *telemetry.Handle
	// Model overrides the default OpenAI-compatible adapter built from config.
	Model model.Model
	// Instruction is the system prompt for every session.
	Instruction session.Instruction
	// Tools are registered once; duplicate names fail construction.
	Tools []tool.Tool
}

// AgentRun aggregates the configured collaborators of a run.
type AgentRun struct {
	cfg         *config.Config
	logger      logging.Logger
	handle      *telemetry.Handle
	model       model.Model
	registry    *tool.Registry
	instruction session.Instruction
}

// New creates an AgentRun. Configuration is resolved first: a missing
// required value fails construction before any transport is built, so no
// network call can precede a configuration error.
func New(optFns ...func(o *Options)) (*AgentRun, error) {
	opts := Options{
		Logger:      logging.NoOpLogger{},
		Instruction: session.NewInstructionFromText("You are a helpful AI assistant."),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	handle := opts.Telemetry
	if handle == nil {
		h, err := telemetry.Start(func(o *telemetry.Options) {
			o.Endpoint = cfg.OTLPEndpoint
			o.Headers = cfg.OTLPHeaders
			o.Insecure = true
			o.Logger = opts.Logger
		})
		if err != nil {
			// Telemetry is best-effort: the run proceeds untraced.
			opts.Logger.Warn("telemetry disabled", "error", err.Error())
			h = nil
		}
		handle = h
	}

	m := opts.Model
	if m == nil {
		httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
		m = openaimodel.NewModel(func(o *openaimodel.Options) {
			o.Model = cfg.ModelID
			o.BaseURL = cfg.Endpoint
			o.APIKey = cfg.Token
			o.HTTPClient = httpClient
		})
	}

	registry, err := tool.NewRegistry(opts.Tools...)
	if err != nil {
		return nil, err
	}

	return &AgentRun{
		cfg:         cfg,
		logger:      opts.Logger,
		handle:      handle,
		model:       m,
		registry:    registry,
		instruction: opts.Instruction,
	}, nil
}

// Config returns the resolved configuration.
func (a *AgentRun) Config() *config.Config { return a.cfg }

// NewSession creates a fresh single-prompt session bound to the configured
// model, instruction and tools.
func (a *AgentRun) NewSession() *session.Session {
	return session.New(a.model, func(o *session.Options) {
		o.Instruction = a.instruction
		o.Registry = a.registry
		o.Tracer = a.handle.Tracer()
		o.Logger = a.logger
		o.CaptureContent = a.cfg.CaptureContent
	})
}

// Run submits one prompt on a fresh session, streams the response fragments
// to out in production order and returns the assembled telemetry record.
// Transport errors propagate to the caller after the stream terminated;
// fragments already written stand.
func (a *AgentRun) Run(ctx context.Context, prompt string, out io.Writer) (telemetry.Record, error) {
	sess := a.NewSession()

	frags, errs, err := sess.Run(ctx, prompt)
	if err != nil {
		return nil, err
	}

	consumer := session.NewConsumer(out, func(o *session.ConsumerOptions) {
		o.Logger = a.logger
	})

	return consumer.Consume(sess, frags, errs)
}

// RunSync runs one prompt and returns the fully assembled response text
// instead of streaming it. Convenience wrapper around Run.
func (a *AgentRun) RunSync(ctx context.Context, prompt string) (string, telemetry.Record, error) {
	var buf bytes.Buffer
	rec, err := a.Run(ctx, prompt, &buf)
	return buf.String(), rec, err
}

// Flush forces best-effort delivery of buffered telemetry. Safe to call
// multiple times and with no telemetry configured.
func (a *AgentRun) Flush(ctx context.Context) error {
	return a.handle.Flush(ctx)
}

// Shutdown flushes and releases the telemetry handle.
func (a *AgentRun) Shutdown(ctx context.Context) error {
	return a.handle.Shutdown(ctx)
}
