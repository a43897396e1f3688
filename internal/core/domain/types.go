// Package domain holds the value types that flow through one guarded agent
// invocation: the request, raw stream events, gate verdicts and the fragments
// emitted back to the caller.
package domain

import "strings"

const (
	// DefaultSessionID is used when the runtime does not supply a session.
	DefaultSessionID = "default"

	// MissingPromptPhrase becomes the user message when the payload has no prompt.
	MissingPromptPhrase = "No prompt was provided"
)

// InvocationRequest is one call into the agent. It is built per invocation
// and never shared across invocations.
type InvocationRequest struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
}

// NewInvocationRequest builds a request from a decoded JSON payload and the
// runtime session identifier. A missing or non-string "prompt" key yields
// MissingPromptPhrase; an empty session id yields DefaultSessionID.
func NewInvocationRequest(payload map[string]any, sessionID string) InvocationRequest {
	prompt := MissingPromptPhrase
	if v, ok := payload["prompt"].(string); ok {
		prompt = v
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	return InvocationRequest{Prompt: prompt, SessionID: sessionID}
}

// FragmentKind distinguishes streamed model text from gate-produced text.
type FragmentKind string

const (
	// FragmentText is a piece of model output relayed as it arrived.
	FragmentText FragmentKind = "text"
	// FragmentBlocked is the whole response when input screening intervened.
	FragmentBlocked FragmentKind = "blocked"
	// FragmentWarning is appended after the stream when output screening intervened.
	FragmentWarning FragmentKind = "warning"
)

// Fragment is one item emitted by the pipeline. A fragment with Err set is
// always the last one on its channel.
type Fragment struct {
	Kind FragmentKind
	Text string
	Err  error
}
