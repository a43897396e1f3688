// Package webhook implements a Moderator that calls an external HTTP
// endpoint. It is an alternative to Bedrock guardrails for self-hosted
// moderation services.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
)

// Action values understood in webhook responses.
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

const defaultBackoff = 200 * time.Millisecond

// Response is the body a moderation webhook returns.
type Response struct {
	Action      string              `json:"action"`
	Reason      string              `json:"reason,omitempty"`
	Assessments []domain.Assessment `json:"assessments,omitempty"`
}

// Config configures a webhook moderator.
type Config struct {
	Name    string
	URL     string
	Timeout time.Duration
	Retries int
	// Backoff is the first retry delay; later delays follow a Fibonacci
	// sequence. Defaults to 200ms.
	Backoff time.Duration
	Headers map[string]string
	// Client overrides the HTTP client. Its transport is used as-is.
	Client *http.Client
}

// Moderator posts content to a webhook and maps the reply to a
// ModerationResult. It never decides fail-open or fail-closed itself; errors
// are returned to the gate.
type Moderator struct {
	name    string
	url     string
	retries int
	backoff time.Duration
	headers map[string]string
	client  *http.Client
}

// New creates a webhook moderator.
func New(cfg Config) (*Moderator, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("webhook moderator: url is required")
	}
	name := cfg.Name
	if name == "" {
		name = "webhook"
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &Moderator{
		name:    name,
		url:     cfg.URL,
		retries: retries,
		backoff: backoff,
		headers: cfg.Headers,
		client:  client,
	}, nil
}

// Name returns the moderator identifier.
func (m *Moderator) Name() string {
	return m.name
}

// Moderate executes the webhook call. Transport failures, 429 and 5xx
// responses are retried with Fibonacci backoff; malformed replies are not.
func (m *Moderator) Moderate(ctx context.Context, req ports.ModerationRequest) (*ports.ModerationResult, error) {
	var result *ports.ModerationResult
	backoff := retry.WithMaxRetries(uint64(m.retries), retry.NewFibonacci(m.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := m.doRequest(ctx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("webhook moderator %s: %w", m.name, err)
	}
	return result, nil
}

func (m *Moderator) doRequest(ctx context.Context, in ports.ModerationRequest) (*ports.ModerationResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range m.headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("webhook request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, retry.RetryableError(err)
		}
		return nil, err
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal moderation response: %w", err)
	}

	result := &ports.ModerationResult{Assessments: out.Assessments}
	switch strings.ToLower(out.Action) {
	case ActionAllow, "":
		result.Action = domain.GateActionNone
	case ActionDeny:
		result.Action = domain.GateActionIntervened
		if out.Reason != "" {
			result.Assessments = append(result.Assessments, domain.Assessment{
				Policy: "webhook",
				Action: ActionDeny,
				Detail: out.Reason,
			})
		}
	default:
		return nil, fmt.Errorf("invalid action from webhook: %s", out.Action)
	}
	return result, nil
}

var _ ports.Moderator = (*Moderator)(nil)
