package runtime

import (
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
	"github.com/tjfontaine/agentcore-guard/internal/observe"
	"github.com/tjfontaine/agentcore-guard/internal/tools"
)

// Option is a functional option for configuring a Guard.
type Option func(*Guard) error

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		g.logger = logger
		return nil
	}
}

// WithAWSConfig supplies the AWS configuration instead of resolving it from
// the default credential chain.
func WithAWSConfig(cfg aws.Config) Option {
	return func(g *Guard) error {
		g.awsCfg = &cfg
		return nil
	}
}

// WithApprover sets the approval policy for tool calls that are not
// auto-approved by configuration.
func WithApprover(a tools.Approver) Option {
	return func(g *Guard) error {
		g.approver = a
		return nil
	}
}

// WithModerator replaces the configured moderation backend.
func WithModerator(m ports.Moderator) Option {
	return func(g *Guard) error {
		g.moderator = m
		return nil
	}
}

// WithPromptStore replaces the configured prompt store.
func WithPromptStore(s ports.PromptStore) Option {
	return func(g *Guard) error {
		g.promptStore = s
		return nil
	}
}

// WithAgentFactory replaces the Bedrock ConverseStream agent.
func WithAgentFactory(f ports.AgentFactory) Option {
	return func(g *Guard) error {
		g.agents = f
		return nil
	}
}

// WithSink adds a diagnostics sink alongside the configured ones.
func WithSink(s observe.Sink) Option {
	return func(g *Guard) error {
		g.extraSinks = append(g.extraSinks, s)
		return nil
	}
}
