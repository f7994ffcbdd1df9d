package services

import (
	"testing"
)

func TestRiskScannerScan(t *testing.T) {
	scanner := NewRiskScanner(DefaultKeywords())

	tests := []struct {
		name      string
		message   string
		wantNames []string
	}{
		{
			name:      "single substance",
			message:   "朋友給我安非他命",
			wantNames: []string{"安非他命"},
		},
		{
			name:      "multiple substances deterministic order",
			message:   "有人用K他命也有人用大麻",
			wantNames: []string{"大麻", "K他命"},
		},
		{
			name:      "emerging drug slang",
			message:   "夜市有人發毒咖啡包",
			wantNames: []string{"毒咖啡包"},
		},
		{
			name:      "clean message",
			message:   "今天天氣真好",
			wantNames: nil,
		},
		{
			name:      "empty message",
			message:   "",
			wantNames: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := scanner.Scan(tt.message)
			got := SubstanceNames(hits)
			if len(got) != len(tt.wantNames) {
				t.Fatalf("Scan(%q) names = %v, want %v", tt.message, got, tt.wantNames)
			}
			for i := range got {
				if got[i] != tt.wantNames[i] {
					t.Errorf("Scan(%q)[%d] = %q, want %q", tt.message, i, got[i], tt.wantNames[i])
				}
			}
		})
	}
}

func TestRiskScannerStableAcrossCalls(t *testing.T) {
	scanner := NewRiskScanner(DefaultKeywords())
	message := "聽說海洛因跟安非他命都很危險"

	first := SubstanceNames(scanner.Scan(message))
	for i := 0; i < 10; i++ {
		again := SubstanceNames(scanner.Scan(message))
		if len(again) != len(first) {
			t.Fatalf("scan result count changed between calls")
		}
		for j := range again {
			if again[j] != first[j] {
				t.Fatalf("scan order changed between calls: %v vs %v", again, first)
			}
		}
	}
}
