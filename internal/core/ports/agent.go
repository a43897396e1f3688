package ports

import (
	"context"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
)

// AgentConfig configures one agent session.
type AgentConfig struct {
	SystemPrompt string
	SessionID    string
	// AutoApproveToolCalls runs tool calls without asking the approver.
	AutoApproveToolCalls bool
}

// Agent streams a response to a single user message.
type Agent interface {
	// Stream starts the agent. The returned channel is closed when the
	// stream ends; an event with Err set is the last one delivered.
	Stream(ctx context.Context, message string) (<-chan domain.AgentEvent, error)
}

// AgentFactory builds an agent session per invocation.
type AgentFactory interface {
	NewAgent(ctx context.Context, cfg AgentConfig) (Agent, error)
}

// AgentFactoryFunc adapts a function to AgentFactory.
type AgentFactoryFunc func(ctx context.Context, cfg AgentConfig) (Agent, error)

// NewAgent implements AgentFactory.
func (f AgentFactoryFunc) NewAgent(ctx context.Context, cfg AgentConfig) (Agent, error) {
	return f(ctx, cfg)
}
