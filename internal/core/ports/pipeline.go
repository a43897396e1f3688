// Package ports defines the interfaces the guarded pipeline uses to reach
// external services. This file contains the moderation and prompt store ports.
package ports

import (
	"context"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
)

// ModerationRequest is the data sent to a moderation service.
type ModerationRequest struct {
	// Direction tags the content as user input or model output.
	Direction domain.Direction `json:"direction"`
	// Content is the full text to screen.
	Content string `json:"content"`
	// Metadata carries correlation fields such as the session id.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ModerationResult is returned from a moderation service.
type ModerationResult struct {
	// Action is NONE when the content passes.
	Action domain.GateAction `json:"action"`
	// Assessments are the service's findings, passed through untouched.
	Assessments []domain.Assessment `json:"assessments,omitempty"`
}

// Moderator screens content with an external moderation service.
type Moderator interface {
	// Name identifies the backend in logs and diagnostics.
	Name() string
	// Moderate calls the service. Errors are the caller's to interpret.
	Moderate(ctx context.Context, req ModerationRequest) (*ModerationResult, error)
}

// PromptStore fetches managed prompt templates.
type PromptStore interface {
	// GetPrompt fetches a prompt by identifier. An empty version, or
	// "latest", selects the working draft.
	GetPrompt(ctx context.Context, identifier, version string) (*domain.PromptTemplate, error)
}
