// Package config loads service configuration from an optional YAML file and
// AGENTCORE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Double underscores
// separate levels: AGENTCORE_GUARDRAIL__IDENTIFIER sets guardrail.identifier.
const EnvPrefix = "AGENTCORE_"

// DefaultPath is read when no path is given.
const DefaultPath = "config.yaml"

// Provider names.
const (
	ProviderBedrock = "bedrock"
	ProviderWebhook = "webhook"
	ProviderFile    = "file"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

type Config struct {
	Server      ServerConfig      `koanf:"server" yaml:"server"`
	Log         LogConfig         `koanf:"log" yaml:"log"`
	AWS         AWSConfig         `koanf:"aws" yaml:"aws"`
	Agent       AgentConfig       `koanf:"agent" yaml:"agent"`
	Guardrail   GuardrailConfig   `koanf:"guardrail" yaml:"guardrail"`
	PromptStore PromptStoreConfig `koanf:"prompt_store" yaml:"prompt_store"`
	Diagnostics DiagnosticsConfig `koanf:"diagnostics" yaml:"diagnostics"`
	Telemetry   TelemetryConfig   `koanf:"telemetry" yaml:"telemetry"`
	Remote      RemoteConfig      `koanf:"remote" yaml:"remote"`
}

type ServerConfig struct {
	Port           int           `koanf:"port" yaml:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout" yaml:"request_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

type AWSConfig struct {
	Region   string `koanf:"region" yaml:"region"`
	Endpoint string `koanf:"endpoint" yaml:"endpoint,omitempty"`
}

type AgentConfig struct {
	ModelID              string `koanf:"model_id" yaml:"model_id"`
	MaxTokens            int    `koanf:"max_tokens" yaml:"max_tokens"`
	MaxToolRounds        int    `koanf:"max_tool_rounds" yaml:"max_tool_rounds"`
	AutoApproveToolCalls bool   `koanf:"auto_approve_tool_calls" yaml:"auto_approve_tool_calls"`
}

type GuardrailConfig struct {
	Enabled       bool          `koanf:"enabled" yaml:"enabled"`
	Provider      string        `koanf:"provider" yaml:"provider"`
	Identifier    string        `koanf:"identifier" yaml:"identifier,omitempty"`
	Version       string        `koanf:"version" yaml:"version"`
	Timeout       time.Duration `koanf:"timeout" yaml:"timeout"`
	InputMessage  string        `koanf:"input_message" yaml:"input_message,omitempty"`
	OutputMessage string        `koanf:"output_message" yaml:"output_message,omitempty"`
	Webhook       WebhookConfig `koanf:"webhook" yaml:"webhook,omitempty"`
}

type WebhookConfig struct {
	URL     string            `koanf:"url" yaml:"url,omitempty"`
	Headers map[string]string `koanf:"headers" yaml:"headers,omitempty"`
	Retries int               `koanf:"retries" yaml:"retries,omitempty"`
}

type PromptStoreConfig struct {
	Enabled    bool          `koanf:"enabled" yaml:"enabled"`
	Provider   string        `koanf:"provider" yaml:"provider"`
	Identifier string        `koanf:"identifier" yaml:"identifier,omitempty"`
	Version    string        `koanf:"version" yaml:"version,omitempty"`
	Timeout    time.Duration `koanf:"timeout" yaml:"timeout"`
	Retries    int           `koanf:"retries" yaml:"retries"`
	CacheTTL   time.Duration `koanf:"cache_ttl" yaml:"cache_ttl"`
	File       string        `koanf:"file" yaml:"file,omitempty"`
}

type DiagnosticsConfig struct {
	SQLitePath string `koanf:"sqlite_path" yaml:"sqlite_path,omitempty"`
	Buffer     int    `koanf:"buffer" yaml:"buffer"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled" yaml:"enabled"`
	ServiceName string `koanf:"service_name" yaml:"service_name"`
}

type RemoteConfig struct {
	Binary   string `koanf:"binary" yaml:"binary"`
	AgentARN string `koanf:"agent_arn" yaml:"agent_arn,omitempty"`
}

var defaults = map[string]any{
	"server.port":                   8080,
	"server.request_timeout":        "15m",
	"log.level":                     "info",
	"log.format":                    "json",
	"aws.region":                    "eu-central-1",
	"agent.model_id":                "eu.anthropic.claude-sonnet-4-20250514-v1:0",
	"agent.max_tokens":              4096,
	"agent.max_tool_rounds":         8,
	"agent.auto_approve_tool_calls": true,
	"guardrail.provider":            ProviderBedrock,
	"guardrail.version":             "DRAFT",
	"guardrail.timeout":             "10s",
	"prompt_store.provider":         ProviderBedrock,
	"prompt_store.timeout":          "5s",
	"prompt_store.retries":          0,
	"prompt_store.cache_ttl":        "0s",
	"diagnostics.buffer":            256,
	"telemetry.service_name":        "agentcore-guard",
	"remote.binary":                 "agentcore",
}

// Load reads path (DefaultPath when empty), then environment overrides,
// then fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Guardrail.Webhook.URL = substituteEnvVars(cfg.Guardrail.Webhook.URL)
	for name, value := range cfg.Guardrail.Webhook.Headers {
		cfg.Guardrail.Webhook.Headers[name] = substituteEnvVars(value)
	}
	cfg.Remote.AgentARN = substituteEnvVars(cfg.Remote.AgentARN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown providers and enabled features without the
// settings they need.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}

	if c.Guardrail.Enabled {
		switch c.Guardrail.Provider {
		case ProviderBedrock:
			if c.Guardrail.Identifier == "" {
				errs = append(errs, errors.New("guardrail.identifier is required when the bedrock guardrail is enabled"))
			}
		case ProviderWebhook:
			if c.Guardrail.Webhook.URL == "" {
				errs = append(errs, errors.New("guardrail.webhook.url is required when the webhook guardrail is enabled"))
			}
		default:
			errs = append(errs, fmt.Errorf("guardrail.provider %q is not supported", c.Guardrail.Provider))
		}
	}

	if c.PromptStore.Enabled {
		switch c.PromptStore.Provider {
		case ProviderBedrock, ProviderFile:
		default:
			errs = append(errs, fmt.Errorf("prompt_store.provider %q is not supported", c.PromptStore.Provider))
		}
		if c.PromptStore.Identifier == "" {
			errs = append(errs, errors.New("prompt_store.identifier is required when the prompt store is enabled"))
		}
		if c.PromptStore.Provider == ProviderFile && c.PromptStore.File == "" {
			errs = append(errs, errors.New("prompt_store.file is required for the file prompt store"))
		}
	}
	if c.PromptStore.Retries < 0 {
		errs = append(errs, errors.New("prompt_store.retries must not be negative"))
	}
	if c.Agent.MaxToolRounds <= 0 {
		errs = append(errs, errors.New("agent.max_tool_rounds must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

// substituteEnvVars replaces ${VAR} references with environment values.
func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
