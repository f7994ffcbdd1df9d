package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	UserID         string `json:"user_id"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Validate trims the message and enforces the boundary limits.
// Validation failures never reach the pipeline.
func (r *ChatRequest) Validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Message = strings.TrimSpace(r.Message)

	if r.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if utf8.RuneCountInString(r.UserID) > 100 {
		return fmt.Errorf("user_id must be at most 100 characters")
	}
	if r.Message == "" {
		return fmt.Errorf("message is required")
	}
	if utf8.RuneCountInString(r.Message) > 2000 {
		return fmt.Errorf("message must be at most 2000 characters")
	}
	if r.ConversationID != "" {
		if _, err := uuid.Parse(r.ConversationID); err != nil {
			return fmt.Errorf("conversation_id must be a valid UUID")
		}
	}
	return nil
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	ConversationID     string    `json:"conversation_id"`
	UserMessageID      string    `json:"user_message_id"`
	AssistantMessageID string    `json:"assistant_message_id"`
	Reply              string    `json:"reply"`
	Timestamp          time.Time `json:"timestamp"`
}
