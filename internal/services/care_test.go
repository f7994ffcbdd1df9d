package services

import (
	"testing"

	"careline/internal/models"
)

func TestCareTrackerNext(t *testing.T) {
	tests := []struct {
		name          string
		startStage    int
		startNonImp   int
		analysis      models.AnalysisBundle
		improved      bool
		expectedStage int
		expectedNon   int
	}{
		{
			name:          "high risk jumps straight to stage 4",
			startStage:    1,
			analysis:      models.AnalysisBundle{RiskLevel: models.RiskHigh, CareStageNeeded: 1},
			expectedStage: 4,
			expectedNon:   0,
		},
		{
			name:          "needed stage above current steps up by one",
			startStage:    1,
			analysis:      models.AnalysisBundle{RiskLevel: models.RiskMedium, CareStageNeeded: 3},
			expectedStage: 2,
			expectedNon:   0,
		},
		{
			name:          "improvement steps down by one",
			startStage:    3,
			analysis:      models.AnalysisBundle{RiskLevel: models.RiskNone, CareStageNeeded: 1},
			improved:      true,
			expectedStage: 2,
			expectedNon:   0,
		},
		{
			name:          "improvement at stage 1 stays at 1",
			startStage:    1,
			analysis:      models.AnalysisBundle{RiskLevel: models.RiskNone, CareStageNeeded: 1},
			improved:      true,
			expectedStage: 1,
			expectedNon:   0,
		},
		{
			name:          "first flat turn only counts",
			startStage:    2,
			startNonImp:   0,
			analysis:      models.AnalysisBundle{RiskLevel: models.RiskLow, CareStageNeeded: 2},
			expectedStage: 2,
			expectedNon:   1,
		},
		{
			name:          "second flat turn forces escalation",
			startStage:    2,
			startNonImp:   1,
			analysis:      models.AnalysisBundle{RiskLevel: models.RiskLow, CareStageNeeded: 2},
			expectedStage: 3,
			expectedNon:   0,
		},
		{
			name:          "no forced escalation past stage 4",
			startStage:    4,
			startNonImp:   5,
			analysis:      models.AnalysisBundle{RiskLevel: models.RiskLow, CareStageNeeded: 4},
			expectedStage: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewCareTracker(2)
			state := models.CareState{CurrentStage: tt.startStage, NonImprovementCount: tt.startNonImp}

			got := tracker.Next(&state, tt.analysis, tt.improved)

			if got != tt.expectedStage {
				t.Errorf("Next() = %d, want %d", got, tt.expectedStage)
			}
			if state.CurrentStage != tt.expectedStage {
				t.Errorf("state.CurrentStage = %d, want %d", state.CurrentStage, tt.expectedStage)
			}
			if tt.name != "no forced escalation past stage 4" && state.NonImprovementCount != tt.expectedNon {
				t.Errorf("NonImprovementCount = %d, want %d", state.NonImprovementCount, tt.expectedNon)
			}
		})
	}
}

func TestCareTrackerStallThenEscalate(t *testing.T) {
	tracker := NewCareTracker(2)
	state := models.NewCareState()
	flat := models.AnalysisBundle{RiskLevel: models.RiskLow, CareStageNeeded: 1}

	if got := tracker.Next(&state, flat, false); got != 1 {
		t.Fatalf("turn 1 stage = %d, want 1", got)
	}
	if got := tracker.Next(&state, flat, false); got != 2 {
		t.Fatalf("turn 2 stage = %d, want 2 after forced escalation", got)
	}
	// Counter resets after the forced step
	if state.NonImprovementCount != 0 {
		t.Errorf("NonImprovementCount = %d after escalation, want 0", state.NonImprovementCount)
	}
}

func TestRestoreState(t *testing.T) {
	window := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "早", Metadata: map[string]string{
			models.MetaCareStage:      "2",
			models.MetaNonImprovement: "1",
		}},
		{Role: models.RoleUser, Content: "嗯"},
		{Role: models.RoleAssistant, Content: "好", Metadata: map[string]string{
			models.MetaCareStage:      "3",
			models.MetaNonImprovement: "0",
		}},
	}

	state := RestoreState(window)
	if state.CurrentStage != 3 {
		t.Errorf("CurrentStage = %d, want 3 (newest assistant message wins)", state.CurrentStage)
	}
	if state.NonImprovementCount != 0 {
		t.Errorf("NonImprovementCount = %d, want 0", state.NonImprovementCount)
	}
}

func TestRestoreStateDefaults(t *testing.T) {
	tests := []struct {
		name   string
		window []models.Message
	}{
		{"empty window", nil},
		{"no assistant messages", []models.Message{{Role: models.RoleUser, Content: "hi"}}},
		{"corrupt metadata", []models.Message{{Role: models.RoleAssistant, Content: "x", Metadata: map[string]string{
			models.MetaCareStage: "not-a-number",
		}}}},
		{"out of range stage", []models.Message{{Role: models.RoleAssistant, Content: "x", Metadata: map[string]string{
			models.MetaCareStage: "9",
		}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := RestoreState(tt.window)
			if state.CurrentStage != models.CareStageMin {
				t.Errorf("CurrentStage = %d, want %d", state.CurrentStage, models.CareStageMin)
			}
		})
	}
}
