package services

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestQualityLoggerAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quality.jsonl")
	q := NewQualityLogger(path)

	for i := 0; i < 3; i++ {
		rec := TurnRecord{
			Timestamp:      time.Now().UTC(),
			ConversationID: "conv-1",
			UserID:         "user-1",
			Intent:         "chitchat",
			RiskLevel:      "none",
			CareStage:      1,
			ReplyClass:     "general",
			Strategy:       StrategyFull,
			ReplyLength:    10,
		}
		if err := q.Record(rec); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec TurnRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Errorf("line %d is not valid JSON: %v", lines+1, err)
		}
		if rec.ConversationID != "conv-1" {
			t.Errorf("line %d lost fields: %+v", lines+1, rec)
		}
		lines++
	}
	if lines != 3 {
		t.Errorf("expected 3 log lines, got %d", lines)
	}
}

func TestQualityLoggerCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "quality.jsonl")
	q := NewQualityLogger(path)

	if err := q.Record(TurnRecord{ConversationID: "conv-1"}); err != nil {
		t.Fatalf("Record() into a fresh directory failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("log file missing: %v", err)
	}
}

func TestQualityLoggerDisabled(t *testing.T) {
	q := NewQualityLogger("")
	if err := q.Record(TurnRecord{}); err != nil {
		t.Errorf("disabled logger should be a no-op, got %v", err)
	}
}
