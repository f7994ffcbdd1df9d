package services

import (
	"log"
	"strconv"

	"careline/internal/models"
)

// CareTracker decides the care stage for each turn. Stages move one step at
// a time; only a high risk level may jump straight to stage 4.
type CareTracker struct {
	escalationTurns int // consecutive non-improving turns before a forced step up
}

// NewCareTracker creates a tracker with the configured escalation threshold.
func NewCareTracker(escalationTurns int) *CareTracker {
	if escalationTurns < 1 {
		escalationTurns = 2
	}
	return &CareTracker{escalationTurns: escalationTurns}
}

// Next applies one turn to the state machine and returns the stage to use
// for this turn. The state is mutated in place.
func (t *CareTracker) Next(state *models.CareState, analysis models.AnalysisBundle, improved bool) int {
	previous := state.CurrentStage
	if previous < models.CareStageMin {
		previous = models.CareStageMin
	}

	// High risk overrides everything for this turn
	if analysis.RiskLevel == models.RiskHigh {
		state.CurrentStage = models.CareStageMax
		state.LastChangeTurn++
		state.NonImprovementCount = 0
		log.Printf("🚨 [CARE] High risk — forcing stage %d (was %d)", models.CareStageMax, previous)
		return state.CurrentStage
	}

	next := previous
	switch {
	case analysis.CareStageNeeded > previous:
		next = previous + 1
	case improved && previous > models.CareStageMin:
		next = previous - 1
	}

	if next == previous {
		if improved {
			state.NonImprovementCount = 0
		} else {
			state.NonImprovementCount++
			if state.NonImprovementCount >= t.escalationTurns && previous < models.CareStageMax {
				next = previous + 1
				log.Printf("📈 [CARE] %d turns without improvement — escalating to stage %d", state.NonImprovementCount, next)
			}
		}
	} else {
		state.NonImprovementCount = 0
	}

	if next > models.CareStageMax {
		next = models.CareStageMax
	}
	if next < models.CareStageMin {
		next = models.CareStageMin
	}

	if next != previous {
		state.NonImprovementCount = 0
	}
	state.CurrentStage = next
	state.LastChangeTurn++
	return next
}

// RestoreState rebuilds the care state from the newest assistant message in
// the window. A fresh conversation starts at stage 1.
func RestoreState(window []models.Message) models.CareState {
	state := models.NewCareState()
	for i := len(window) - 1; i >= 0; i-- {
		msg := window[i]
		if msg.Role != models.RoleAssistant {
			continue
		}
		if raw, ok := msg.Metadata[models.MetaCareStage]; ok {
			if stage, err := strconv.Atoi(raw); err == nil && stage >= models.CareStageMin && stage <= models.CareStageMax {
				state.CurrentStage = stage
			}
		}
		if raw, ok := msg.Metadata[models.MetaNonImprovement]; ok {
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
				state.NonImprovementCount = n
			}
		}
		break
	}
	return state
}

// StageIntent describes what the assistant should do at each stage; it is
// embedded in the drafter and shaper prompts.
func StageIntent(stage int) string {
	switch stage {
	case 1:
		return "同理傾聽，不給建議，讓使用者覺得被聽見"
	case 2:
		return "溫和探問，多了解使用者的狀況與需求"
	case 3:
		return "給出具體建議與自助資源"
	default:
		return "明確轉介：提供專線電話與機構名稱，鼓勵立即求助"
	}
}
