// Package config loads the immutable per-run configuration for agentrun from
// environment variables, an optional .env file and an optional YAML defaults
// file. Environment values always win over file values. Loading fails fast
// with a *MissingConfigError when a required value (the auth token) is absent;
// non-critical values fall back to documented defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names consumed by Load.
const (
	EnvEndpoint       = "AGENTRUN_ENDPOINT"
	EnvToken          = "AGENTRUN_TOKEN"
	EnvModelID        = "AGENTRUN_MODEL_ID"
	EnvCaptureContent = "AGENTRUN_CAPTURE_CONTENT"
	EnvOTLPEndpoint   = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvOTLPHeaders    = "OTEL_EXPORTER_OTLP_HEADERS"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultEndpoint = "https://models.inference.ai.azure.com"
	DefaultModelID  = "gpt-4o-mini"
)

// Config holds all values a single run needs. It is constructed once by Load
// and never mutated afterwards.
type Config struct {
	// Endpoint is the base URL of the hosted chat completion API.
	Endpoint string
	// Token authenticates against the hosted endpoint. Required.
	Token string
	// ModelID selects the model served by the endpoint.
	ModelID string
	// OTLPEndpoint is the telemetry export target. Empty disables OTLP export.
	OTLPEndpoint string
	// OTLPHeaders are static headers attached to every export request.
	OTLPHeaders map[string]string
	// CaptureContent gates recording prompt/response text on spans.
	CaptureContent bool
}

// MissingConfigError reports a required environment variable that was absent.
type MissingConfigError struct {
	Variable string
}

// Error implements the error interface.
func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", e.Variable)
}

// LoadOptions configure Load. All fields are optional.
type LoadOptions struct {
	// EnvFile is the dotenv file loaded before reading the environment.
	// Missing files are not an error.
	EnvFile string
	// ConfigFile is a YAML file supplying defaults for non-critical values.
	ConfigFile string
	// Getenv is the environment lookup, overridable for tests.
	Getenv func(string) string
}

// fileConfig mirrors the YAML defaults file shape.
type fileConfig struct {
	Endpoint  string `yaml:"endpoint"`
	ModelID   string `yaml:"model_id"`
	Telemetry struct {
		Endpoint string            `yaml:"endpoint"`
		Headers  map[string]string `yaml:"headers"`
	} `yaml:"telemetry"`
}

// Load reads the configuration. Resolution order per value: environment,
// YAML defaults file, built-in default. The auth token has no default and
// no file fallback; its absence is fatal.
func Load(optFns ...func(o *LoadOptions)) (*Config, error) {
	opts := LoadOptions{
		EnvFile: ".env",
		Getenv:  os.Getenv,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	// Secrets may come from a local .env during development. Absence is
	// expected in CI and production.
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	}

	var fc fileConfig
	if opts.ConfigFile != "" {
		data, err := os.ReadFile(opts.ConfigFile)
		if err == nil {
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", opts.ConfigFile, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", opts.ConfigFile, err)
		}
	}

	token := opts.Getenv(EnvToken)
	if token == "" {
		return nil, &MissingConfigError{Variable: EnvToken}
	}

	cfg := &Config{
		Endpoint:       firstNonEmpty(opts.Getenv(EnvEndpoint), fc.Endpoint, DefaultEndpoint),
		Token:          token,
		ModelID:        firstNonEmpty(opts.Getenv(EnvModelID), fc.ModelID, DefaultModelID),
		OTLPEndpoint:   firstNonEmpty(opts.Getenv(EnvOTLPEndpoint), fc.Telemetry.Endpoint),
		OTLPHeaders:    fc.Telemetry.Headers,
		CaptureContent: parseBool(opts.Getenv(EnvCaptureContent)),
	}

	if raw := opts.Getenv(EnvOTLPHeaders); raw != "" {
		cfg.OTLPHeaders = ParseHeaders(raw)
	}

	return cfg, nil
}

// ParseHeaders parses an OTLP header string of the form
// "key1=value1,key2=value2" into a map. Malformed pairs are skipped.
func ParseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || key == "" {
			continue
		}
		headers[key] = value
	}
	return headers
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseBool(raw string) bool {
	if raw == "" {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return b
}
