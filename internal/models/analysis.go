package models

// Intent values produced by the analyzer
const (
	IntentGreeting         = "greeting"
	IntentChitchat         = "chitchat"
	IntentInformationQuery = "information_query"
	IntentHelpSeeking      = "help_seeking"
	IntentEmotionalSupport = "emotional_support"
	IntentCrisis           = "crisis"
	IntentPlaceQuery       = "place_query"
	IntentOther            = "other"
)

// Risk levels, ordered from none to high. High is reserved for explicit or
// strongly-implied self-harm intent, including metaphorical phrasing.
const (
	RiskNone   = "none"
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

var validIntents = map[string]bool{
	IntentGreeting:         true,
	IntentChitchat:         true,
	IntentInformationQuery: true,
	IntentHelpSeeking:      true,
	IntentEmotionalSupport: true,
	IntentCrisis:           true,
	IntentPlaceQuery:       true,
	IntentOther:            true,
}

var validRiskLevels = map[string]bool{
	RiskNone:   true,
	RiskLow:    true,
	RiskMedium: true,
	RiskHigh:   true,
}

// PlaceQuery is the optional structured hint for external place lookup.
type PlaceQuery struct {
	Type       string  `json:"type"` // address, phone, hours, general
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

var validPlaceQueryTypes = map[string]bool{
	"address": true,
	"phone":   true,
	"hours":   true,
	"general": true,
}

// AnalysisBundle is the validated, transient output of the intent analyzer
// for a single turn.
type AnalysisBundle struct {
	Intent          string      `json:"intent"`
	EmotionalState  string      `json:"emotional_state"`
	RiskLevel       string      `json:"risk_level"`
	CareStageNeeded int         `json:"care_stage_needed"`
	NeedRAG         bool        `json:"need_rag"`
	RetrievalHint   string      `json:"retrieval_hint,omitempty"`
	PlaceQuery      *PlaceQuery `json:"place_query,omitempty"`
}

// DefaultAnalysis is the safe fallback used when the analyzer's LLM call
// fails or returns malformed output.
func DefaultAnalysis() AnalysisBundle {
	return AnalysisBundle{
		Intent:          IntentChitchat,
		EmotionalState:  "neutral",
		RiskLevel:       RiskNone,
		CareStageNeeded: 1,
		NeedRAG:         false,
	}
}

// Normalize collapses unknown enum values to the safe defaults and clamps
// the care stage into 1..4.
func (a *AnalysisBundle) Normalize() {
	if !validIntents[a.Intent] {
		a.Intent = IntentChitchat
	}
	if !validRiskLevels[a.RiskLevel] {
		a.RiskLevel = RiskNone
	}
	if a.EmotionalState == "" {
		a.EmotionalState = "neutral"
	}
	if a.CareStageNeeded < 1 {
		a.CareStageNeeded = 1
	}
	if a.CareStageNeeded > 4 {
		a.CareStageNeeded = 4
	}
	if a.PlaceQuery != nil {
		if a.PlaceQuery.Name == "" || !validPlaceQueryTypes[a.PlaceQuery.Type] {
			a.PlaceQuery = nil
		} else if a.PlaceQuery.Confidence < 0 {
			a.PlaceQuery.Confidence = 0
		} else if a.PlaceQuery.Confidence > 1 {
			a.PlaceQuery.Confidence = 1
		}
	}
}

// RiskRank returns the ordering position of a risk level (none=0 .. high=3).
func RiskRank(level string) int {
	switch level {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}
