package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
	"github.com/tjfontaine/agentcore-guard/internal/observe"
	"github.com/tjfontaine/agentcore-guard/internal/tools"
)

const (
	// DefaultModelID is the cross-region inference profile used when no
	// model is configured.
	DefaultModelID = "eu.anthropic.claude-sonnet-4-20250514-v1:0"
	// DefaultMaxTokens caps each model turn.
	DefaultMaxTokens = 4096
	// DefaultMaxToolRounds bounds tool-use turns per invocation.
	DefaultMaxToolRounds = 8
)

// ErrToolRoundLimit is delivered when the model keeps requesting tools past
// the configured number of rounds.
var ErrToolRoundLimit = errors.New("bedrock agent: tool round limit reached")

var tracer = otel.Tracer("github.com/tjfontaine/agentcore-guard/internal/adapters/bedrock")

// EventReader is the part of a Converse event stream the agent consumes.
// *bedrockruntime.ConverseStreamEventStream implements it.
type EventReader interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

// StreamOpener opens one ConverseStream model turn.
type StreamOpener interface {
	OpenStream(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (EventReader, error)
}

// ConverseStreamAPI is the subset of the Bedrock Runtime client used to
// open streams.
type ConverseStreamAPI interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

type clientOpener struct {
	api ConverseStreamAPI
}

// NewStreamOpener adapts a Bedrock Runtime client to StreamOpener.
func NewStreamOpener(api ConverseStreamAPI) StreamOpener {
	return clientOpener{api: api}
}

func (o clientOpener) OpenStream(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (EventReader, error) {
	out, err := o.api.ConverseStream(ctx, in)
	if err != nil {
		return nil, err
	}
	return out.GetStream(), nil
}

// AgentSettings configures model calls.
type AgentSettings struct {
	ModelID       string
	MaxTokens     int32
	MaxToolRounds int
}

// AgentFactory creates one ConverseAgent per invocation.
type AgentFactory struct {
	opener   StreamOpener
	settings AgentSettings
	tools    *tools.Registry
	approver tools.Approver
	sink     observe.Sink
	logger   *slog.Logger
}

// AgentOption configures an AgentFactory.
type AgentOption func(*AgentFactory)

// WithTools sets the tool set offered to the model.
func WithTools(r *tools.Registry) AgentOption {
	return func(f *AgentFactory) { f.tools = r }
}

// WithApprover sets the policy for tool calls that are not auto-approved.
func WithApprover(a tools.Approver) AgentOption {
	return func(f *AgentFactory) {
		if a != nil {
			f.approver = a
		}
	}
}

// WithAgentSink sets the diagnostics sink for tool calls.
func WithAgentSink(s observe.Sink) AgentOption {
	return func(f *AgentFactory) {
		if s != nil {
			f.sink = s
		}
	}
}

// WithAgentLogger sets the logger.
func WithAgentLogger(l *slog.Logger) AgentOption {
	return func(f *AgentFactory) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewAgentFactory creates an AgentFactory. Zero settings take defaults.
func NewAgentFactory(opener StreamOpener, settings AgentSettings, opts ...AgentOption) *AgentFactory {
	if settings.ModelID == "" {
		settings.ModelID = DefaultModelID
	}
	if settings.MaxTokens <= 0 {
		settings.MaxTokens = DefaultMaxTokens
	}
	if settings.MaxToolRounds <= 0 {
		settings.MaxToolRounds = DefaultMaxToolRounds
	}
	f := &AgentFactory{
		opener:   opener,
		settings: settings,
		approver: tools.DenyAll,
		sink:     observe.NoopSink{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewAgent implements ports.AgentFactory.
func (f *AgentFactory) NewAgent(_ context.Context, cfg ports.AgentConfig) (ports.Agent, error) {
	if f.opener == nil {
		return nil, fmt.Errorf("bedrock agent: no stream opener configured")
	}
	approver := f.approver
	if cfg.AutoApproveToolCalls {
		approver = tools.AutoApprove
	}
	return &ConverseAgent{
		factory:  f,
		cfg:      cfg,
		approver: approver,
		logger:   f.logger.With(slog.String("session_id", cfg.SessionID), slog.String("model_id", f.settings.ModelID)),
	}, nil
}

// ConverseAgent runs one conversation turn, including any tool rounds, and
// relays the model's events.
type ConverseAgent struct {
	factory  *AgentFactory
	cfg      ports.AgentConfig
	approver tools.Approver
	logger   *slog.Logger
}

// Stream opens the first model turn synchronously so that connection and
// authorization errors are returned directly. Later failures arrive on the
// channel.
func (a *ConverseAgent) Stream(ctx context.Context, message string) (<-chan domain.AgentEvent, error) {
	messages := []types.Message{{
		Role:    types.ConversationRoleUser,
		Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: message}},
	}}

	reader, err := a.open(ctx, messages)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.AgentEvent)
	go func() {
		defer close(out)
		a.run(ctx, messages, reader, out)
	}()
	return out, nil
}

func (a *ConverseAgent) open(ctx context.Context, messages []types.Message) (EventReader, error) {
	reader, err := a.factory.opener.OpenStream(ctx, a.input(messages))
	if err != nil {
		a.logger.WarnContext(ctx, "converse stream failed to open", errorAttrs(err)...)
		return nil, fmt.Errorf("converse stream: %w", err)
	}
	return reader, nil
}

func (a *ConverseAgent) input(messages []types.Message) *bedrockruntime.ConverseStreamInput {
	in := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(a.factory.settings.ModelID),
		Messages: messages,
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(a.factory.settings.MaxTokens),
		},
	}
	if a.cfg.SystemPrompt != "" {
		in.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: a.cfg.SystemPrompt}}
	}
	if specs := a.factory.tools.Specs(); len(specs) > 0 {
		cfg := &types.ToolConfiguration{}
		for _, s := range specs {
			cfg.Tools = append(cfg.Tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
				Name:        aws.String(s.Name),
				Description: aws.String(s.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(s.InputSchema)},
			}})
		}
		in.ToolConfig = cfg
	}
	return in
}

func (a *ConverseAgent) run(ctx context.Context, messages []types.Message, reader EventReader, out chan<- domain.AgentEvent) {
	ctx, span := tracer.Start(ctx, "bedrock.converse")
	defer span.End()

	send := func(ev domain.AgentEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for round := 0; ; round++ {
		turn, err := a.consume(ctx, reader, send)
		if err != nil {
			if ctx.Err() == nil {
				send(domain.AgentEvent{Err: err})
			}
			return
		}
		messages = append(messages, turn.message())
		span.SetAttributes(attribute.Int("bedrock.rounds", round+1))

		if turn.stopReason != types.StopReasonToolUse || len(turn.toolUses) == 0 {
			return
		}
		if round+1 >= a.factory.settings.MaxToolRounds {
			send(domain.AgentEvent{Err: fmt.Errorf("%w (%d)", ErrToolRoundLimit, a.factory.settings.MaxToolRounds)})
			return
		}

		results := a.runTools(ctx, turn.toolUses, turn.inputErrs, send)
		if ctx.Err() != nil {
			return
		}
		messages = append(messages, types.Message{Role: types.ConversationRoleUser, Content: results})

		reader, err = a.open(ctx, messages)
		if err != nil {
			send(domain.AgentEvent{Err: err})
			return
		}
	}
}

// turn is the assistant message assembled from one model stream.
type turn struct {
	blocks     []types.ContentBlock
	text       strings.Builder
	tool       *tools.Call
	toolInput  strings.Builder
	toolUses   []tools.Call
	stopReason types.StopReason

	// inputErrs holds tool input that failed to decode, keyed by tool use ID.
	inputErrs map[string]error
}

func (t *turn) flush() {
	if t.text.Len() > 0 {
		t.blocks = append(t.blocks, &types.ContentBlockMemberText{Value: t.text.String()})
		t.text.Reset()
	}
	if t.tool != nil {
		input := map[string]any{}
		if raw := t.toolInput.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				if t.inputErrs == nil {
					t.inputErrs = map[string]error{}
				}
				t.inputErrs[t.tool.ID] = fmt.Errorf("decode tool input: %w", err)
				input = map[string]any{}
			}
		}
		t.tool.Input = input
		t.blocks = append(t.blocks, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
			ToolUseId: aws.String(t.tool.ID),
			Name:      aws.String(t.tool.Name),
			Input:     document.NewLazyDocument(input),
		}})
		t.toolUses = append(t.toolUses, *t.tool)
		t.tool = nil
		t.toolInput.Reset()
	}
}

func (t *turn) message() types.Message {
	return types.Message{Role: types.ConversationRoleAssistant, Content: t.blocks}
}

func (a *ConverseAgent) consume(ctx context.Context, reader EventReader, send func(domain.AgentEvent) bool) (*turn, error) {
	defer reader.Close()

	t := &turn{}
	for {
		var (
			ev types.ConverseStreamOutput
			ok bool
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok = <-reader.Events():
		}
		if !ok {
			break
		}

		var relay domain.MapEvent
		switch v := ev.(type) {
		case *types.ConverseStreamOutputMemberMessageStart:
			relay = domain.MapEvent{"event": map[string]any{"messageStart": map[string]any{"role": string(v.Value.Role)}}}
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if start, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				t.flush()
				t.tool = &tools.Call{ID: aws.ToString(start.Value.ToolUseId), Name: aws.ToString(start.Value.Name)}
				relay = domain.MapEvent{"current_tool_use": map[string]any{"toolUseId": t.tool.ID, "name": t.tool.Name}}
			}
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch d := v.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if t.tool == nil {
					t.text.WriteString(d.Value)
				}
				relay = domain.MapEvent{"data": d.Value, "delta": map[string]any{"text": d.Value}}
			case *types.ContentBlockDeltaMemberToolUse:
				t.toolInput.WriteString(aws.ToString(d.Value.Input))
			}
		case *types.ConverseStreamOutputMemberContentBlockStop:
			t.flush()
		case *types.ConverseStreamOutputMemberMessageStop:
			t.flush()
			t.stopReason = v.Value.StopReason
			relay = domain.MapEvent{"event": map[string]any{"messageStop": map[string]any{"stopReason": string(v.Value.StopReason)}}}
		case *types.ConverseStreamOutputMemberMetadata:
			usage := map[string]any{}
			if u := v.Value.Usage; u != nil {
				usage["inputTokens"] = aws.ToInt32(u.InputTokens)
				usage["outputTokens"] = aws.ToInt32(u.OutputTokens)
			}
			relay = domain.MapEvent{"event": map[string]any{"metadata": map[string]any{"usage": usage}}}
		}
		if relay != nil && !send(domain.AgentEvent{Event: relay}) {
			return nil, ctx.Err()
		}
	}
	t.flush()

	if err := reader.Err(); err != nil {
		a.logger.WarnContext(ctx, "converse stream failed", errorAttrs(err)...)
		return nil, fmt.Errorf("converse stream: %w", err)
	}
	return t, nil
}

func (a *ConverseAgent) runTools(ctx context.Context, calls []tools.Call, inputErrs map[string]error, send func(domain.AgentEvent) bool) []types.ContentBlock {
	results := make([]types.ContentBlock, 0, len(calls))
	for _, call := range calls {
		text, status := a.runTool(ctx, call, inputErrs[call.ID])
		results = append(results, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
			ToolUseId: aws.String(call.ID),
			Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: text}},
			Status:    status,
		}})
		if !send(domain.AgentEvent{Event: domain.MapEvent{"tool_result": map[string]any{
			"toolUseId": call.ID,
			"name":      call.Name,
			"status":    string(status),
		}}}) {
			break
		}
	}
	return results
}

func (a *ConverseAgent) runTool(ctx context.Context, call tools.Call, inputErr error) (string, types.ToolResultStatus) {
	logger := a.logger.With(slog.String("tool", call.Name), slog.String("tool_use_id", call.ID))

	if inputErr != nil {
		logger.WarnContext(ctx, "tool input rejected", slog.String("error", inputErr.Error()))
		return inputErr.Error(), types.ToolResultStatusError
	}

	approved, err := a.approver.Approve(ctx, call)
	if err != nil {
		logger.WarnContext(ctx, "tool approval failed", slog.String("error", err.Error()))
	}
	a.emitToolCall(ctx, call, approved)
	if !approved {
		logger.InfoContext(ctx, "tool call denied")
		return tools.ErrDenied.Error(), types.ToolResultStatusError
	}

	text, err := a.factory.tools.Execute(ctx, call)
	if err != nil {
		logger.WarnContext(ctx, "tool call failed", slog.String("error", err.Error()))
		return err.Error(), types.ToolResultStatusError
	}
	logger.DebugContext(ctx, "tool call succeeded", slog.Int("result_bytes", len(text)))
	return text, types.ToolResultStatusSuccess
}

func (a *ConverseAgent) emitToolCall(ctx context.Context, call tools.Call, approved bool) {
	_ = a.factory.sink.Emit(ctx, observe.Event{
		Type:      observe.EventToolCall,
		RequestID: observe.RequestID(ctx),
		SessionID: a.cfg.SessionID,
		Attrs: map[string]any{
			"tool":     call.Name,
			"id":       call.ID,
			"approved": approved,
		},
	})
}

var _ ports.AgentFactory = (*AgentFactory)(nil)
