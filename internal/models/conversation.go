package models

import (
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation represents one user's dialogue thread.
// Conversations are append-only; the core never deletes them.
type Conversation struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Message is a single turn half inside a conversation.
// Creation timestamps within a conversation are monotonically non-decreasing.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Role           string            `json:"role"`
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Metadata keys written onto assistant messages by the pipeline
const (
	MetaCareStage      = "care_stage"
	MetaRiskLevel      = "risk_level"
	MetaIntent         = "intent"
	MetaReplyClass     = "reply_class"
	MetaNonImprovement = "non_improvement_count"
)

// ConversationWithMessages is the read-endpoint payload: the conversation
// plus its ordered messages.
type ConversationWithMessages struct {
	Conversation
	Messages []Message `json:"messages"`
}

// Case is the optional per-user case record kept by the program.
type Case struct {
	UserID    string    `json:"user_id"`
	Nickname  string    `json:"nickname,omitempty"`
	Language  string    `json:"language,omitempty"`
	Stage     string    `json:"stage,omitempty"` // assessment, treatment, recovery
	Goals     []string  `json:"goals,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Case stages
const (
	CaseStageAssessment = "assessment"
	CaseStageTreatment  = "treatment"
	CaseStageRecovery   = "recovery"
)
