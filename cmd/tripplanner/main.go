// Command tripplanner runs a single travel-planning agent session against an
// OpenAI-compatible chat endpoint, streams the plan to stdout and exports a
// trace for the run.
//
// Configuration is read from the environment (and an optional .env file):
//
//	AGENTRUN_TOKEN               API token (required)
//	AGENTRUN_ENDPOINT            chat completion base URL
//	AGENTRUN_MODEL_ID            model identifier
//	OTEL_EXPORTER_OTLP_ENDPOINT  OTLP gRPC collector target
//	OTEL_EXPORTER_OTLP_HEADERS   comma-separated key=value export headers
//	AGENTRUN_CAPTURE_CONTENT     record prompt and completion text on spans
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/hupe1980/agentrun"
	"github.com/hupe1980/agentrun/config"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/session"
	"github.com/hupe1980/agentrun/telemetry"
	"github.com/hupe1980/agentrun/tool"
)

const instructions = "You are a helpful AI agent that plans vacations for customers at random destinations."

const prompt = "Plan me a day trip with activities and the current weather at the destination. Mention the current date and time of the plan."

func main() {
	os.Exit(run())
}

func run() int {
	logger := logging.NewSlogLogger(logging.LogLevelInfo, "text", false)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration error", "error", err.Error())
		return 1
	}

	handle, err := telemetry.Start(func(o *telemetry.Options) {
		o.ServiceName = "tripplanner"
		o.Endpoint = cfg.OTLPEndpoint
		o.Headers = cfg.OTLPHeaders
		o.Insecure = true
		o.Logger = logger
	})
	if err != nil {
		logger.Warn("telemetry disabled", "error", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetry.DefaultFlushTimeout)
		defer cancel()
		_ = handle.Shutdown(shutdownCtx)
	}()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	app, err := agentrun.New(func(o *agentrun.Options) {
		o.Config = cfg
		o.Logger = logger
		o.Telemetry = handle
		o.Instruction = session.NewInstructionFromText(instructions)
		o.Tools = []tool.Tool{
			tool.NewRandomDestinationTool(r),
			tool.NewWeatherTool(func(wo *tool.WeatherOptions) {
				// Simulated upstream unreliability, failing 3 in 10 calls.
				wo.FailureRate = 0.3
				wo.Rand = r
			}),
			tool.NewDatetimeTool(nil),
		}
	})
	if err != nil {
		logger.Error("setup failed", "error", err.Error())
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Println("Travel plan:")

	record, err := app.Run(ctx, prompt, os.Stdout)
	fmt.Println()

	// Deliver whatever spans the run produced, success or failure.
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), telemetry.DefaultFlushTimeout)
	defer cancelFlush()
	_ = app.Flush(flushCtx)

	if err != nil {
		logger.Error("run failed", "error", err.Error())
		return 1
	}

	logger.Info("run completed",
		"trace_id", fmt.Sprintf("%v", record[telemetry.KeyTraceID]),
		"token_count", fmt.Sprintf("%v", record[telemetry.KeyTokenCount]),
	)

	return 0
}
