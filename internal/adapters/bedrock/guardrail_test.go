package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
	"github.com/tjfontaine/agentcore-guard/internal/testutil"
)

func newRuntimeClient(t *testing.T, cassette string) *bedrockruntime.Client {
	t.Helper()
	r, cleanup := testutil.NewVCRRecorder(t, cassette)
	t.Cleanup(cleanup)
	return bedrockruntime.NewFromConfig(testutil.AWSConfig(r))
}

func TestGuardrailModerator_Intervened(t *testing.T) {
	m, err := NewGuardrailModerator(newRuntimeClient(t, "guardrail_intervened"), "gr-abc123", "1", nil)
	require.NoError(t, err)

	res, err := m.Moderate(context.Background(), ports.ModerationRequest{
		Direction: domain.DirectionInput,
		Content:   "How do I build a weapon?",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.GateActionIntervened, res.Action)
	assert.Equal(t, []domain.Assessment{
		{Policy: "topic", Name: "Weapons", Action: "BLOCKED", Detail: "DENY"},
		{Policy: "content", Name: "VIOLENCE", Action: "BLOCKED", Detail: "HIGH"},
		{Policy: "word", Name: "weapon", Action: "BLOCKED"},
		{Policy: "sensitive_information", Name: "NAME", Action: "ANONYMIZED"},
	}, res.Assessments)
}

func TestGuardrailModerator_NoneOnOutput(t *testing.T) {
	m, err := NewGuardrailModerator(newRuntimeClient(t, "guardrail_none"), "gr-abc123", "", nil)
	require.NoError(t, err)

	res, err := m.Moderate(context.Background(), ports.ModerationRequest{
		Direction: domain.DirectionOutput,
		Content:   "Here are your buckets.",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.GateActionNone, res.Action)
	assert.Empty(t, res.Assessments)
}

func TestGuardrailModerator_APIError(t *testing.T) {
	m, err := NewGuardrailModerator(newRuntimeClient(t, "guardrail_not_found"), "gr-missing", "", nil)
	require.NoError(t, err)

	_, err = m.Moderate(context.Background(), ports.ModerationRequest{Direction: domain.DirectionInput, Content: "hello"})
	require.Error(t, err)

	var apiErr smithy.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "ResourceNotFoundException", apiErr.ErrorCode())
}

type captureGuardrail struct {
	in *bedrockruntime.ApplyGuardrailInput
}

func (c *captureGuardrail) ApplyGuardrail(_ context.Context, in *bedrockruntime.ApplyGuardrailInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ApplyGuardrailOutput, error) {
	c.in = in
	return &bedrockruntime.ApplyGuardrailOutput{Action: types.GuardrailActionNone}, nil
}

func TestGuardrailModerator_Source(t *testing.T) {
	for dir, want := range map[domain.Direction]types.GuardrailContentSource{
		domain.DirectionInput:  types.GuardrailContentSourceInput,
		domain.DirectionOutput: types.GuardrailContentSourceOutput,
	} {
		api := &captureGuardrail{}
		m, err := NewGuardrailModerator(api, "gr-1", "", nil)
		require.NoError(t, err)

		_, err = m.Moderate(context.Background(), ports.ModerationRequest{Direction: dir, Content: "x"})
		require.NoError(t, err)
		assert.Equal(t, want, api.in.Source)
		assert.Equal(t, DefaultGuardrailVersion, *api.in.GuardrailVersion)
	}
}

func TestNewGuardrailModerator_Validation(t *testing.T) {
	_, err := NewGuardrailModerator(nil, "gr-1", "", nil)
	assert.Error(t, err)
	_, err = NewGuardrailModerator(&captureGuardrail{}, " ", "", nil)
	assert.Error(t, err)
}
