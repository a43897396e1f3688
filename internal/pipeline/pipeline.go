package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
	"github.com/tjfontaine/agentcore-guard/internal/events"
	"github.com/tjfontaine/agentcore-guard/internal/observe"
	"github.com/tjfontaine/agentcore-guard/internal/prompt"
	"github.com/tjfontaine/agentcore-guard/internal/tokens"
)

// WarningPrefix introduces the output-gate warning appended after a stream.
const WarningPrefix = "\n\n⚠️ "

// ErrNoAgentFactory is returned by New when no agent factory is supplied.
var ErrNoAgentFactory = errors.New("pipeline: agent factory required")

var tracer = otel.Tracer("github.com/tjfontaine/agentcore-guard/internal/pipeline")

// Screener screens content in one direction. *gate.Gate implements it.
type Screener interface {
	Screen(ctx context.Context, content string, direction domain.Direction) domain.GateVerdict
}

// PromptResolver supplies the system prompt. *prompt.Resolver implements it.
type PromptResolver interface {
	Resolve(ctx context.Context) string
}

// Config holds the explicit settings that replace process-wide toggles.
type Config struct {
	// LogLevel is the minimum level for the pipeline's own log records.
	LogLevel slog.Level
	// AutoApproveToolCalls lets the agent run tools without approval.
	AutoApproveToolCalls bool
}

// Pipeline runs guarded invocations. It holds no per-invocation state and is
// safe for concurrent use.
type Pipeline struct {
	cfg     Config
	gate    Screener
	prompts PromptResolver
	agents  ports.AgentFactory
	sink    observe.Sink
	logger  *slog.Logger
	counter *tokens.Counter
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithGate sets the content gate. Without one nothing is screened.
func WithGate(g Screener) Option {
	return func(p *Pipeline) { p.gate = g }
}

// WithPromptResolver sets the system prompt source. Without one every
// invocation uses prompt.DefaultSystemPrompt.
func WithPromptResolver(r PromptResolver) Option {
	return func(p *Pipeline) { p.prompts = r }
}

// WithSink sets the diagnostics sink.
func WithSink(s observe.Sink) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.sink = s
		}
	}
}

// WithLogger sets the base logger. Records below Config.LogLevel are dropped.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTokenCounter sets the counter used for completion diagnostics.
func WithTokenCounter(c *tokens.Counter) Option {
	return func(p *Pipeline) { p.counter = c }
}

// New creates a Pipeline.
func New(cfg Config, agents ports.AgentFactory, opts ...Option) (*Pipeline, error) {
	if agents == nil {
		return nil, ErrNoAgentFactory
	}
	p := &Pipeline{
		cfg:    cfg,
		agents: agents,
		sink:   observe.NoopSink{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.gate == nil {
		p.gate = allowAll{}
	}
	if p.prompts == nil {
		p.prompts = staticPrompt(prompt.DefaultSystemPrompt)
	}
	p.logger = slog.New(&levelHandler{level: cfg.LogLevel, Handler: p.logger.Handler()})
	return p, nil
}

// Invoke runs one invocation and returns its fragments. The channel is
// closed when the pipeline reaches a terminal state.
func (p *Pipeline) Invoke(ctx context.Context, req domain.InvocationRequest) <-chan domain.Fragment {
	out := make(chan domain.Fragment)
	go func() {
		defer close(out)
		p.run(ctx, req, out)
	}()
	return out
}

func (p *Pipeline) run(ctx context.Context, req domain.InvocationRequest, out chan<- domain.Fragment) {
	if req.SessionID == "" {
		req.SessionID = domain.DefaultSessionID
	}
	ctx = observe.WithSessionID(ctx, req.SessionID)
	ctx, span := tracer.Start(ctx, "pipeline.invoke", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
	))
	defer span.End()

	logger := p.logger.With(
		slog.String("session_id", req.SessionID),
		slog.String("request_id", observe.RequestID(ctx)),
	)
	logger.InfoContext(ctx, "invocation started", slog.Int("prompt_bytes", len(req.Prompt)))
	p.emit(ctx, observe.EventInvocationStarted, map[string]any{"prompt_bytes": len(req.Prompt)})

	send := func(f domain.Fragment) bool {
		select {
		case out <- f:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// START: screen the prompt before anything is paid for.
	if verdict := p.gate.Screen(ctx, req.Prompt, domain.DirectionInput); !verdict.Allowed {
		span.SetAttributes(attribute.String("pipeline.state", "input_gated_out"))
		logger.InfoContext(ctx, "input blocked by content gate", slog.String("action", string(verdict.Action)))
		p.emit(ctx, observe.EventInvocationBlocked, map[string]any{"direction": string(domain.DirectionInput)})
		send(domain.Fragment{Kind: domain.FragmentBlocked, Text: verdict.Message})
		return
	}

	// STREAMING
	systemPrompt := p.prompts.Resolve(ctx)
	agent, err := p.agents.NewAgent(ctx, ports.AgentConfig{
		SystemPrompt:         systemPrompt,
		SessionID:            req.SessionID,
		AutoApproveToolCalls: p.cfg.AutoApproveToolCalls,
	})
	if err != nil {
		p.fail(ctx, span, logger, fmt.Errorf("create agent: %w", err), 0, send)
		return
	}
	stream, err := agent.Stream(ctx, req.Prompt)
	if err != nil {
		p.fail(ctx, span, logger, fmt.Errorf("open agent stream: %w", err), 0, send)
		return
	}

	var (
		acc       strings.Builder
		fragments int
	)
	for {
		var (
			item domain.AgentEvent
			ok   bool
		)
		select {
		case <-ctx.Done():
			p.cancelled(ctx, span, logger, fragments, acc.Len())
			return
		case item, ok = <-stream:
		}
		if !ok {
			break
		}
		if item.Err != nil {
			p.fail(ctx, span, logger, item.Err, fragments, send)
			return
		}
		text, ok := events.Extract(item.Event)
		if !ok {
			continue
		}
		if !send(domain.Fragment{Kind: domain.FragmentText, Text: text}) {
			p.cancelled(ctx, span, logger, fragments, acc.Len())
			return
		}
		acc.WriteString(text)
		fragments++
	}
	if ctx.Err() != nil {
		p.cancelled(ctx, span, logger, fragments, acc.Len())
		return
	}

	// OUTPUT_GATED
	response := acc.String()
	blocked := false
	if response != "" {
		if verdict := p.gate.Screen(ctx, response, domain.DirectionOutput); !verdict.Allowed {
			blocked = true
			logger.InfoContext(ctx, "output blocked by content gate", slog.String("action", string(verdict.Action)))
			p.emit(ctx, observe.EventInvocationBlocked, map[string]any{"direction": string(domain.DirectionOutput)})
			send(domain.Fragment{Kind: domain.FragmentWarning, Text: WarningPrefix + verdict.Message})
		}
	}

	// DONE
	outputTokens := p.counter.Count(response)
	span.SetAttributes(
		attribute.String("pipeline.state", "done"),
		attribute.Int("pipeline.fragments", fragments),
		attribute.Bool("pipeline.output_blocked", blocked),
	)
	logger.InfoContext(ctx, "invocation completed",
		slog.Int("fragments", fragments),
		slog.Int("response_bytes", len(response)),
		slog.Int("output_tokens_estimate", outputTokens),
		slog.Bool("output_blocked", blocked),
	)
	p.emit(ctx, observe.EventInvocationCompleted, map[string]any{
		"fragments":              fragments,
		"response_bytes":         len(response),
		"output_tokens_estimate": outputTokens,
		"output_blocked":         blocked,
	})
}

func (p *Pipeline) fail(ctx context.Context, span trace.Span, logger *slog.Logger, err error, fragments int, send func(domain.Fragment) bool) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "agent stream failed")
	logger.ErrorContext(ctx, "invocation failed",
		slog.String("error", err.Error()),
		slog.Int("fragments", fragments),
	)
	p.emit(ctx, observe.EventInvocationFailed, map[string]any{
		"error":     err.Error(),
		"fragments": fragments,
	})
	send(domain.Fragment{Err: err})
}

func (p *Pipeline) cancelled(ctx context.Context, span trace.Span, logger *slog.Logger, fragments, discarded int) {
	span.SetAttributes(attribute.String("pipeline.state", "cancelled"))
	logger.InfoContext(ctx, "invocation cancelled, discarding partial output",
		slog.Int("fragments", fragments),
		slog.Int("discarded_bytes", discarded),
	)
	// The invocation context is done; diagnostics still need a live one.
	p.emit(context.WithoutCancel(ctx), observe.EventInvocationCancelled, map[string]any{
		"fragments":       fragments,
		"discarded_bytes": discarded,
	})
}

func (p *Pipeline) emit(ctx context.Context, typ observe.EventType, attrs map[string]any) {
	_ = p.sink.Emit(ctx, observe.Event{
		Type:      typ,
		RequestID: observe.RequestID(ctx),
		SessionID: observe.SessionID(ctx),
		Attrs:     attrs,
	})
}

// Collect drains a fragment channel, returning the text of every fragment
// and the upstream error, if any.
func Collect(ch <-chan domain.Fragment) ([]string, error) {
	var (
		texts []string
		err   error
	)
	for f := range ch {
		if f.Err != nil {
			err = f.Err
			continue
		}
		texts = append(texts, f.Text)
	}
	return texts, err
}

type allowAll struct{}

func (allowAll) Screen(context.Context, string, domain.Direction) domain.GateVerdict {
	return domain.AllowVerdict()
}

type staticPrompt string

func (s staticPrompt) Resolve(context.Context) string { return string(s) }
