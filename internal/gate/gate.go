// Package gate screens user input and model output with an external
// moderation service. Screening fails open: when the service cannot be
// reached the content is allowed.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
	"github.com/tjfontaine/agentcore-guard/internal/observe"
)

const (
	// DefaultInputMessage replaces the whole response when input is blocked.
	DefaultInputMessage = "I'm sorry, I cannot process this message because it goes against our content policies."
	// DefaultOutputMessage is appended when output is blocked.
	DefaultOutputMessage = "I'm sorry, I cannot provide that information because it goes against our content policies."

	defaultTimeout = 10 * time.Second
)

var errNoResult = errors.New("moderator returned no result")

var tracer = otel.Tracer("github.com/tjfontaine/agentcore-guard/internal/gate")

// Gate wraps a Moderator with the fail-open policy and fixed block messages.
type Gate struct {
	moderator     ports.Moderator
	timeout       time.Duration
	inputMessage  string
	outputMessage string
	sink          observe.Sink
	logger        *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithTimeout bounds each moderation call.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithMessages overrides the block messages. Empty strings keep the defaults.
func WithMessages(input, output string) Option {
	return func(g *Gate) {
		if input != "" {
			g.inputMessage = input
		}
		if output != "" {
			g.outputMessage = output
		}
	}
}

// WithSink sets the diagnostics sink.
func WithSink(sink observe.Sink) Option {
	return func(g *Gate) {
		if sink != nil {
			g.sink = sink
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a Gate. A nil moderator disables screening: every call is
// allowed without contacting anything.
func New(moderator ports.Moderator, opts ...Option) *Gate {
	g := &Gate{
		moderator:     moderator,
		timeout:       defaultTimeout,
		inputMessage:  DefaultInputMessage,
		outputMessage: DefaultOutputMessage,
		sink:          observe.NoopSink{},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enabled reports whether a moderator is configured.
func (g *Gate) Enabled() bool {
	return g != nil && g.moderator != nil
}

// Screen moderates content. It never returns an error: moderation failures
// produce an allow verdict.
func (g *Gate) Screen(ctx context.Context, content string, direction domain.Direction) domain.GateVerdict {
	if !g.Enabled() {
		return domain.AllowVerdict()
	}

	ctx, span := tracer.Start(ctx, "gate.screen")
	defer span.End()
	span.SetAttributes(
		attribute.String("gate.direction", string(direction)),
		attribute.String("gate.moderator", g.moderator.Name()),
	)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := ports.ModerationRequest{
		Direction: direction,
		Content:   content,
	}
	if sid := observe.SessionID(ctx); sid != "" {
		req.Metadata = map[string]string{"session_id": sid}
	}
	result, err := g.moderator.Moderate(callCtx, req)
	if err == nil && result == nil {
		err = errNoResult
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "moderation unavailable")
		g.logger.WarnContext(ctx, "moderation unavailable, allowing content",
			slog.String("moderator", g.moderator.Name()),
			slog.String("direction", string(direction)),
			slog.String("error", err.Error()),
		)
		g.emit(ctx, observe.EventGateUnavailable, map[string]any{
			"moderator": g.moderator.Name(),
			"direction": string(direction),
			"error":     err.Error(),
		})
		return domain.AllowVerdict()
	}

	verdict := domain.GateVerdict{
		Allowed:     result.Action == domain.GateActionNone,
		Action:      result.Action,
		Assessments: result.Assessments,
	}
	if !verdict.Allowed {
		verdict.Message = g.messageFor(direction)
	}

	span.SetAttributes(
		attribute.String("gate.action", string(verdict.Action)),
		attribute.Int("gate.assessments", len(verdict.Assessments)),
	)
	g.logger.DebugContext(ctx, "moderation verdict",
		slog.String("moderator", g.moderator.Name()),
		slog.String("direction", string(direction)),
		slog.String("action", string(verdict.Action)),
		slog.Int("assessments", len(verdict.Assessments)),
	)
	g.emit(ctx, observe.EventGateVerdict, map[string]any{
		"moderator":   g.moderator.Name(),
		"direction":   string(direction),
		"action":      string(verdict.Action),
		"allowed":     verdict.Allowed,
		"assessments": verdict.Assessments,
	})
	return verdict
}

func (g *Gate) messageFor(direction domain.Direction) string {
	if direction == domain.DirectionOutput {
		return g.outputMessage
	}
	return g.inputMessage
}

func (g *Gate) emit(ctx context.Context, typ observe.EventType, attrs map[string]any) {
	_ = g.sink.Emit(ctx, observe.Event{
		Type:      typ,
		RequestID: observe.RequestID(ctx),
		SessionID: observe.SessionID(ctx),
		Attrs:     attrs,
	})
}
