package models

// Care stages describe how directive the assistant should be:
// 1 empathic listening, 2 gentle probing, 3 concrete suggestions and
// self-help resources, 4 explicit referral with hotline and institutions.
const (
	CareStageMin = 1
	CareStageMax = 4
)

// CareState is the per-conversation stage machine state. It starts at
// stage 1 and is mutated only by the care tracker.
type CareState struct {
	CurrentStage        int `json:"current_stage"`
	LastChangeTurn      int `json:"last_change_turn"`
	NonImprovementCount int `json:"non_improvement_count"` // consecutive turns without improvement
}

// NewCareState returns the initial state for a fresh conversation.
func NewCareState() CareState {
	return CareState{CurrentStage: CareStageMin}
}
