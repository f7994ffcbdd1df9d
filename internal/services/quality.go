package services

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TurnRecord is one line of the append-only quality log. Operators tail the
// file to review risk handling and stage latency offline.
type TurnRecord struct {
	Timestamp      time.Time      `json:"timestamp"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Intent         string         `json:"intent"`
	RiskLevel      string         `json:"risk_level"`
	CareStage      int            `json:"care_stage"`
	ReplyClass     string         `json:"reply_class"`
	Strategy       string         `json:"strategy"`
	SnippetCount   int            `json:"snippet_count"`
	ReplyLength    int            `json:"reply_length"`
	Fallback       bool           `json:"fallback"`
	StageMillis    map[string]int `json:"stage_millis"`
}

// QualityLogger appends one JSON line per completed turn. Writes are
// serialized so concurrent turns never interleave lines.
type QualityLogger struct {
	mu   sync.Mutex
	path string
}

// NewQualityLogger creates a logger writing to path. An empty path disables
// logging entirely. The parent directory is created up front so the first
// Record does not fail on a fresh deployment.
func NewQualityLogger(path string) *QualityLogger {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			log.Printf("⚠️ [QUALITY] Cannot create log directory for %s: %v", path, err)
		}
	}
	return &QualityLogger{path: path}
}

// Record appends rec to the log file. Failures are reported but must never
// fail the turn.
func (q *QualityLogger) Record(rec TurnRecord) error {
	if q.path == "" {
		return nil
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal turn record: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open quality log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write quality log: %w", err)
	}
	return nil
}
