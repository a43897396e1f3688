package bedrock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
)

// DefaultGuardrailVersion is the working draft of a guardrail.
const DefaultGuardrailVersion = "DRAFT"

// ApplyGuardrailAPI is the subset of the Bedrock Runtime client used by
// GuardrailModerator.
type ApplyGuardrailAPI interface {
	ApplyGuardrail(ctx context.Context, params *bedrockruntime.ApplyGuardrailInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ApplyGuardrailOutput, error)
}

// GuardrailModerator screens content with a Bedrock guardrail.
type GuardrailModerator struct {
	api        ApplyGuardrailAPI
	identifier string
	version    string
	logger     *slog.Logger
}

// NewGuardrailModerator creates a moderator for the given guardrail. An empty
// version selects DefaultGuardrailVersion.
func NewGuardrailModerator(api ApplyGuardrailAPI, identifier, version string, logger *slog.Logger) (*GuardrailModerator, error) {
	if api == nil {
		return nil, fmt.Errorf("bedrock guardrail: client is required")
	}
	if strings.TrimSpace(identifier) == "" {
		return nil, fmt.Errorf("bedrock guardrail: identifier is required")
	}
	if version == "" {
		version = DefaultGuardrailVersion
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardrailModerator{api: api, identifier: identifier, version: version, logger: logger}, nil
}

// Name returns the moderator identifier.
func (m *GuardrailModerator) Name() string {
	return "bedrock-guardrail:" + m.identifier
}

// Moderate calls ApplyGuardrail for the request's direction.
func (m *GuardrailModerator) Moderate(ctx context.Context, req ports.ModerationRequest) (*ports.ModerationResult, error) {
	source := types.GuardrailContentSourceInput
	if req.Direction == domain.DirectionOutput {
		source = types.GuardrailContentSourceOutput
	}

	out, err := m.api.ApplyGuardrail(ctx, &bedrockruntime.ApplyGuardrailInput{
		GuardrailIdentifier: aws.String(m.identifier),
		GuardrailVersion:    aws.String(m.version),
		Source:              source,
		Content: []types.GuardrailContentBlock{
			&types.GuardrailContentBlockMemberText{Value: types.GuardrailTextBlock{Text: aws.String(req.Content)}},
		},
	})
	if err != nil {
		m.logger.DebugContext(ctx, "apply guardrail failed", errorAttrs(err)...)
		return nil, fmt.Errorf("apply guardrail %s: %w", m.identifier, err)
	}

	result := &ports.ModerationResult{
		Action:      domain.GateActionNone,
		Assessments: flattenAssessments(out.Assessments),
	}
	if out.Action == types.GuardrailActionGuardrailIntervened {
		result.Action = domain.GateActionIntervened
	}
	return result, nil
}

// flattenAssessments turns the policy-specific assessment tree into a flat
// list.
func flattenAssessments(in []types.GuardrailAssessment) []domain.Assessment {
	var out []domain.Assessment
	for _, a := range in {
		if p := a.TopicPolicy; p != nil {
			for _, t := range p.Topics {
				out = append(out, domain.Assessment{
					Policy: "topic",
					Name:   aws.ToString(t.Name),
					Action: string(t.Action),
					Detail: string(t.Type),
				})
			}
		}
		if p := a.ContentPolicy; p != nil {
			for _, f := range p.Filters {
				out = append(out, domain.Assessment{
					Policy: "content",
					Name:   string(f.Type),
					Action: string(f.Action),
					Detail: string(f.Confidence),
				})
			}
		}
		if p := a.WordPolicy; p != nil {
			for _, w := range p.CustomWords {
				out = append(out, domain.Assessment{
					Policy: "word",
					Name:   aws.ToString(w.Match),
					Action: string(w.Action),
				})
			}
			for _, w := range p.ManagedWordLists {
				out = append(out, domain.Assessment{
					Policy: "word",
					Name:   aws.ToString(w.Match),
					Action: string(w.Action),
					Detail: string(w.Type),
				})
			}
		}
		if p := a.SensitiveInformationPolicy; p != nil {
			for _, e := range p.PiiEntities {
				out = append(out, domain.Assessment{
					Policy: "sensitive_information",
					Name:   string(e.Type),
					Action: string(e.Action),
				})
			}
			for _, r := range p.Regexes {
				out = append(out, domain.Assessment{
					Policy: "sensitive_information",
					Name:   aws.ToString(r.Name),
					Action: string(r.Action),
				})
			}
		}
	}
	return out
}

var _ ports.Moderator = (*GuardrailModerator)(nil)
