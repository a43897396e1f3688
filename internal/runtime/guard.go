// Package runtime assembles a guarded agent from configuration and manages
// its lifecycle.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tjfontaine/agentcore-guard/internal/adapters/bedrock"
	"github.com/tjfontaine/agentcore-guard/internal/adapters/moderation/webhook"
	promptfile "github.com/tjfontaine/agentcore-guard/internal/adapters/promptstore/file"
	"github.com/tjfontaine/agentcore-guard/internal/config"
	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
	"github.com/tjfontaine/agentcore-guard/internal/frontdoor/agentcore"
	"github.com/tjfontaine/agentcore-guard/internal/gate"
	"github.com/tjfontaine/agentcore-guard/internal/observe"
	"github.com/tjfontaine/agentcore-guard/internal/pipeline"
	"github.com/tjfontaine/agentcore-guard/internal/prompt"
	"github.com/tjfontaine/agentcore-guard/internal/server"
	"github.com/tjfontaine/agentcore-guard/internal/storage/sqlite"
	"github.com/tjfontaine/agentcore-guard/internal/tokens"
	"github.com/tjfontaine/agentcore-guard/internal/tools"
)

// Guard owns one configured pipeline and the resources behind it.
type Guard struct {
	cfg    *config.Config
	logger *slog.Logger

	// Injected or built from configuration.
	awsCfg      *aws.Config
	moderator   ports.Moderator
	promptStore ports.PromptStore
	agents      ports.AgentFactory
	approver    tools.Approver
	extraSinks  []observe.Sink

	pipeline    *pipeline.Pipeline
	gate        *gate.Gate
	prompts     *prompt.Resolver
	diagnostics *sqlite.Store
	async       *observe.AsyncSink

	closeOnce sync.Once
}

// New builds a Guard. AWS clients are created only for the features that
// need them.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Guard, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	g := &Guard{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	sink, err := g.initSinks()
	if err != nil {
		return nil, err
	}
	if err := g.initModerator(ctx); err != nil {
		g.Close()
		return nil, err
	}
	if err := g.initPromptStore(ctx); err != nil {
		g.Close()
		return nil, err
	}
	if err := g.initAgents(ctx, sink); err != nil {
		g.Close()
		return nil, err
	}

	g.gate = gate.New(g.moderator,
		gate.WithTimeout(cfg.Guardrail.Timeout),
		gate.WithMessages(cfg.Guardrail.InputMessage, cfg.Guardrail.OutputMessage),
		gate.WithSink(sink),
		gate.WithLogger(g.logger.With(slog.String("component", "gate"))),
	)
	g.prompts = prompt.NewResolver(g.promptStore, prompt.Config{
		Identifier: cfg.PromptStore.Identifier,
		Version:    cfg.PromptStore.Version,
		Timeout:    cfg.PromptStore.Timeout,
		Retries:    cfg.PromptStore.Retries,
		CacheTTL:   cfg.PromptStore.CacheTTL,
	}, sink, g.logger.With(slog.String("component", "prompt")))

	g.pipeline, err = pipeline.New(pipeline.Config{
		LogLevel:             level,
		AutoApproveToolCalls: cfg.Agent.AutoApproveToolCalls,
	}, g.agents,
		pipeline.WithGate(g.gate),
		pipeline.WithPromptResolver(g.prompts),
		pipeline.WithSink(sink),
		pipeline.WithLogger(g.logger.With(slog.String("component", "pipeline"))),
		pipeline.WithTokenCounter(tokens.NewCounter()),
	)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	g.logger.Info("guard ready",
		slog.Bool("gate_enabled", g.gate.Enabled()),
		slog.Bool("prompt_store_enabled", g.promptStore != nil),
		slog.Bool("diagnostics_persisted", g.diagnostics != nil),
		slog.Bool("auto_approve_tool_calls", cfg.Agent.AutoApproveToolCalls),
	)
	return g, nil
}

func (g *Guard) initSinks() (observe.Sink, error) {
	sinks := []observe.Sink{
		observe.NewLogSink(g.logger.With(slog.String("component", "diagnostics")), slog.LevelDebug),
	}
	if path := g.cfg.Diagnostics.SQLitePath; path != "" {
		store, err := sqlite.New(path)
		if err != nil {
			return nil, fmt.Errorf("open diagnostics store: %w", err)
		}
		g.diagnostics = store
		g.async = observe.NewAsyncSink(store, g.cfg.Diagnostics.Buffer)
		sinks = append(sinks, g.async)
	}
	sinks = append(sinks, g.extraSinks...)
	return observe.NewMultiSink(sinks...), nil
}

func (g *Guard) aws(ctx context.Context) (aws.Config, error) {
	if g.awsCfg == nil {
		cfg, err := bedrock.LoadAWSConfig(ctx, bedrock.ClientConfig{
			Region:   g.cfg.AWS.Region,
			Endpoint: g.cfg.AWS.Endpoint,
		})
		if err != nil {
			return aws.Config{}, err
		}
		g.awsCfg = &cfg
	}
	return *g.awsCfg, nil
}

func (g *Guard) initModerator(ctx context.Context) error {
	gc := g.cfg.Guardrail
	if g.moderator != nil || !gc.Enabled {
		return nil
	}
	switch gc.Provider {
	case config.ProviderWebhook:
		m, err := webhook.New(webhook.Config{
			URL:     gc.Webhook.URL,
			Timeout: gc.Timeout,
			Retries: gc.Webhook.Retries,
			Headers: gc.Webhook.Headers,
		})
		if err != nil {
			return fmt.Errorf("create webhook moderator: %w", err)
		}
		g.moderator = m
	default:
		awsCfg, err := g.aws(ctx)
		if err != nil {
			return err
		}
		m, err := bedrock.NewGuardrailModerator(bedrockruntime.NewFromConfig(awsCfg), gc.Identifier, gc.Version,
			g.logger.With(slog.String("component", "guardrail")))
		if err != nil {
			return fmt.Errorf("create guardrail moderator: %w", err)
		}
		g.moderator = m
	}
	return nil
}

func (g *Guard) initPromptStore(ctx context.Context) error {
	pc := g.cfg.PromptStore
	if g.promptStore != nil || !pc.Enabled {
		return nil
	}
	switch pc.Provider {
	case config.ProviderFile:
		store, err := promptfile.New(pc.File)
		if err != nil {
			return fmt.Errorf("load prompt catalog: %w", err)
		}
		g.promptStore = store
	default:
		awsCfg, err := g.aws(ctx)
		if err != nil {
			return err
		}
		g.promptStore = bedrock.NewPromptStore(bedrockagent.NewFromConfig(awsCfg),
			g.logger.With(slog.String("component", "prompt_store")))
	}
	return nil
}

func (g *Guard) initAgents(ctx context.Context, sink observe.Sink) error {
	if g.agents != nil {
		return nil
	}
	awsCfg, err := g.aws(ctx)
	if err != nil {
		return err
	}
	registry := tools.NewRegistry(tools.NewUseAWS(s3.NewFromConfig(awsCfg)))
	g.agents = bedrock.NewAgentFactory(
		bedrock.NewStreamOpener(bedrockruntime.NewFromConfig(awsCfg)),
		bedrock.AgentSettings{
			ModelID:       g.cfg.Agent.ModelID,
			MaxTokens:     int32(g.cfg.Agent.MaxTokens),
			MaxToolRounds: g.cfg.Agent.MaxToolRounds,
		},
		bedrock.WithTools(registry),
		bedrock.WithApprover(g.approver),
		bedrock.WithAgentSink(sink),
		bedrock.WithAgentLogger(g.logger.With(slog.String("component", "agent"))),
	)
	return nil
}

// Invoke runs one guarded invocation.
func (g *Guard) Invoke(ctx context.Context, req domain.InvocationRequest) <-chan domain.Fragment {
	return g.pipeline.Invoke(ctx, req)
}

// Pipeline returns the configured pipeline.
func (g *Guard) Pipeline() *pipeline.Pipeline {
	return g.pipeline
}

// Diagnostics returns the persistent diagnostics store, or nil when
// diagnostics.sqlite_path is unset.
func (g *Guard) Diagnostics() *sqlite.Store {
	return g.diagnostics
}

// Handler returns the AgentCore runtime HTTP handler with middleware.
func (g *Guard) Handler() http.Handler {
	return g.newServer().Router
}

func (g *Guard) newServer() *server.Server {
	srv := server.New(server.Config{
		Port:           g.cfg.Server.Port,
		RequestTimeout: g.cfg.Server.RequestTimeout,
		ServiceName:    g.cfg.Telemetry.ServiceName,
	}, g.logger)
	agentcore.NewHandler(g.pipeline, g.logger.With(slog.String("component", "frontdoor"))).Routes(srv.Router)
	return srv
}

// Serve listens on server.port until ctx is cancelled.
func (g *Guard) Serve(ctx context.Context) error {
	return g.newServer().Start(ctx)
}

// Close flushes queued diagnostics and releases the store.
func (g *Guard) Close() error {
	var err error
	g.closeOnce.Do(func() {
		if g.async != nil {
			g.async.Close()
		}
		if g.diagnostics != nil {
			err = g.diagnostics.Close()
		}
	})
	return err
}
