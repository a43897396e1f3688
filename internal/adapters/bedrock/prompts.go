package bedrock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
)

// GetPromptAPI is the subset of the Bedrock Agent client used by PromptStore.
type GetPromptAPI interface {
	GetPrompt(ctx context.Context, params *bedrockagent.GetPromptInput, optFns ...func(*bedrockagent.Options)) (*bedrockagent.GetPromptOutput, error)
}

// PromptStore reads prompts from Bedrock prompt management.
type PromptStore struct {
	api    GetPromptAPI
	logger *slog.Logger
}

// NewPromptStore creates a PromptStore.
func NewPromptStore(api GetPromptAPI, logger *slog.Logger) *PromptStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptStore{api: api, logger: logger}
}

// GetPrompt fetches a prompt. Text templates contribute their text; chat
// templates contribute their joined system blocks.
func (s *PromptStore) GetPrompt(ctx context.Context, identifier, version string) (*domain.PromptTemplate, error) {
	out, err := s.api.GetPrompt(ctx, getPromptInput(identifier, version))
	if err != nil {
		s.logger.DebugContext(ctx, "get prompt failed", errorAttrs(err)...)
		return nil, fmt.Errorf("get prompt %s: %w", identifier, err)
	}

	tmpl := &domain.PromptTemplate{
		Identifier:     identifier,
		Version:        aws.ToString(out.Version),
		DefaultVariant: aws.ToString(out.DefaultVariant),
	}
	for _, v := range out.Variants {
		tmpl.Variants = append(tmpl.Variants, domain.PromptVariant{
			Name: aws.ToString(v.Name),
			Text: variantText(v.TemplateConfiguration),
		})
	}
	return tmpl, nil
}

func getPromptInput(identifier, version string) *bedrockagent.GetPromptInput {
	in := &bedrockagent.GetPromptInput{PromptIdentifier: aws.String(identifier)}
	if version != "" && !strings.EqualFold(version, "latest") {
		in.PromptVersion = aws.String(version)
	}
	return in
}

func variantText(cfg types.PromptTemplateConfiguration) string {
	switch c := cfg.(type) {
	case *types.PromptTemplateConfigurationMemberText:
		return aws.ToString(c.Value.Text)
	case *types.PromptTemplateConfigurationMemberChat:
		var parts []string
		for _, block := range c.Value.System {
			if t, ok := block.(*types.SystemContentBlockMemberText); ok && t.Value != "" {
				parts = append(parts, t.Value)
			}
		}
		return strings.Join(parts, "\n\n")
	default:
		return ""
	}
}

var _ ports.PromptStore = (*PromptStore)(nil)
