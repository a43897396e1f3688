package domain

// Direction tells the moderation service who produced the content.
type Direction string

const (
	// DirectionInput is user-submitted content.
	DirectionInput Direction = "INPUT"
	// DirectionOutput is model-produced content.
	DirectionOutput Direction = "OUTPUT"
)

// GateAction is the moderation outcome.
type GateAction string

const (
	GateActionNone       GateAction = "NONE"
	GateActionIntervened GateAction = "INTERVENED"
)

// Assessment is one opaque finding reported by the moderation service.
type Assessment struct {
	Policy string `json:"policy"`
	Name   string `json:"name,omitempty"`
	Action string `json:"action,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// GateVerdict is the result of screening a piece of content.
type GateVerdict struct {
	Allowed     bool         `json:"allowed"`
	Action      GateAction   `json:"action"`
	Message     string       `json:"message,omitempty"`
	Assessments []Assessment `json:"assessments,omitempty"`
}

// AllowVerdict is the verdict used when content passes or cannot be screened.
func AllowVerdict() GateVerdict {
	return GateVerdict{Allowed: true, Action: GateActionNone}
}
