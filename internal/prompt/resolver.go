// Package prompt resolves the agent's system prompt from a managed prompt
// store, falling back to a compiled-in default whenever the store cannot
// supply one.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
	"github.com/tjfontaine/agentcore-guard/internal/observe"
)

// DefaultSystemPrompt is used whenever the prompt store is unavailable.
const DefaultSystemPrompt = `You are a helpful assistant specialised in AWS.
You answer clearly and directly.
You have access to tools for querying information about AWS.
When asked about AWS resources, use the use_aws tool.

To list S3 buckets, use:
- service_name: 's3'
- operation_name: 'list_buckets'
- parameters: {}

Always give concise, useful answers.`

const (
	SourceRemote   = "remote"
	SourceFallback = "fallback"

	defaultTimeout = 5 * time.Second
	retryBase      = 200 * time.Millisecond
)

var (
	errNotConfigured = errors.New("prompt store not configured")
	errNoVariant     = errors.New("no variant matches the default variant name")
	errEmptyTemplate = errors.New("default variant has no text")
)

var tracer = otel.Tracer("github.com/tjfontaine/agentcore-guard/internal/prompt")

// Config selects the managed prompt.
type Config struct {
	Identifier string
	Version    string
	Timeout    time.Duration
	// Retries is the number of extra attempts after a failed fetch.
	Retries int
	// CacheTTL keeps a remotely resolved prompt for this long. Zero resolves
	// on every invocation.
	CacheTTL time.Duration
	// Fallback replaces DefaultSystemPrompt when set.
	Fallback string
}

// Resolver produces the system prompt for one invocation.
type Resolver struct {
	store  ports.PromptStore
	cfg    Config
	sink   observe.Sink
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	cached   string
	cachedAt time.Time
}

// NewResolver creates a Resolver. A nil store always yields the fallback.
func NewResolver(store ports.PromptStore, cfg Config, sink observe.Sink, logger *slog.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if strings.TrimSpace(cfg.Fallback) == "" {
		cfg.Fallback = DefaultSystemPrompt
	}
	if sink == nil {
		sink = observe.NoopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, cfg: cfg, sink: sink, logger: logger, now: time.Now}
}

// Resolve returns usable prompt text. It never fails.
func (r *Resolver) Resolve(ctx context.Context) string {
	ctx, span := tracer.Start(ctx, "prompt.resolve")
	defer span.End()

	if text, ok := r.fromCache(); ok {
		span.SetAttributes(attribute.String("prompt.source", "cache"))
		r.emit(ctx, SourceRemote, "cache", nil)
		return text
	}

	text, err := r.fetch(ctx)
	if err != nil {
		span.SetAttributes(attribute.String("prompt.source", SourceFallback))
		if !errors.Is(err, errNotConfigured) {
			r.logger.WarnContext(ctx, "prompt store unavailable, using fallback prompt",
				slog.String("prompt_id", r.cfg.Identifier),
				slog.String("error", err.Error()),
			)
		}
		r.emit(ctx, SourceFallback, "", err)
		return r.cfg.Fallback
	}

	span.SetAttributes(attribute.String("prompt.source", SourceRemote))
	r.logger.DebugContext(ctx, "system prompt loaded from prompt store",
		slog.String("prompt_id", r.cfg.Identifier),
		slog.String("version", r.cfg.Version),
	)
	r.remember(text)
	r.emit(ctx, SourceRemote, "store", nil)
	return text
}

func (r *Resolver) fetch(ctx context.Context) (string, error) {
	if r.store == nil || strings.TrimSpace(r.cfg.Identifier) == "" {
		return "", errNotConfigured
	}

	var text string
	backoff := retry.WithMaxRetries(uint64(r.cfg.Retries), retry.NewFibonacci(retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()

		tmpl, err := r.store.GetPrompt(callCtx, r.cfg.Identifier, r.cfg.Version)
		if err != nil {
			return retry.RetryableError(err)
		}
		if tmpl == nil {
			return errNoVariant
		}
		variant, ok := tmpl.Variant(tmpl.DefaultVariant)
		if !ok {
			return fmt.Errorf("%w %q", errNoVariant, tmpl.DefaultVariant)
		}
		if strings.TrimSpace(variant.Text) == "" {
			return errEmptyTemplate
		}
		text = variant.Text
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (r *Resolver) fromCache() (string, bool) {
	if r.cfg.CacheTTL <= 0 {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached == "" || r.now().Sub(r.cachedAt) >= r.cfg.CacheTTL {
		return "", false
	}
	return r.cached, true
}

func (r *Resolver) remember(text string) {
	if r.cfg.CacheTTL <= 0 {
		return
	}
	r.mu.Lock()
	r.cached = text
	r.cachedAt = r.now()
	r.mu.Unlock()
}

func (r *Resolver) emit(ctx context.Context, source, via string, err error) {
	attrs := map[string]any{
		"source":    source,
		"prompt_id": r.cfg.Identifier,
	}
	if via != "" {
		attrs["via"] = via
	}
	if err != nil {
		attrs["reason"] = err.Error()
	}
	_ = r.sink.Emit(ctx, observe.Event{
		Type:      observe.EventPromptResolved,
		RequestID: observe.RequestID(ctx),
		SessionID: observe.SessionID(ctx),
		Attrs:     attrs,
	})
}
