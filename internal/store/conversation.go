package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"careline/internal/database"
	"careline/internal/models"
)

// ConversationStore persists conversations and their append-only messages.
type ConversationStore struct {
	db *database.DB
}

// NewConversationStore creates a conversation store.
func NewConversationStore(db *database.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// Create starts a new conversation for a user.
func (s *ConversationStore) Create(ctx context.Context, userID string) (*models.Conversation, error) {
	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, started_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.StartedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// Get loads a conversation by id, or ErrNotFound.
func (s *ConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, started_at, ended_at, last_message_at, updated_at
		FROM conversations WHERE id = ?`, id)
	return scanConversation(row)
}

// GetWithMessages loads a conversation and all its messages in order.
func (s *ConversationStore) GetWithMessages(ctx context.Context, id string) (*models.ConversationWithMessages, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, metadata_json, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	return &models.ConversationWithMessages{Conversation: *conv, Messages: messages}, nil
}

// ListByUser returns a user's conversations ordered by updated_at descending.
func (s *ConversationStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, started_at, ended_at, last_message_at, updated_at
		FROM conversations WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}
	return conversations, nil
}

// AppendMessage persists one message and bumps the conversation's
// last_message_at. Timestamps within a conversation never move backwards:
// if the clock reads earlier than the previous message, the previous
// timestamp is reused.
func (s *ConversationStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.Content == "" {
		return fmt.Errorf("message content must be non-empty")
	}
	switch msg.Role {
	case models.RoleUser, models.RoleAssistant, models.RoleSystem:
	default:
		return fmt.Errorf("invalid message role %q", msg.Role)
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	// Read the newest timestamp from the typed column directly. An aggregate
	// like MAX(created_at) loses the column type under the sqlite driver and
	// comes back as a string.
	var lastCreated time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC LIMIT 1`,
		msg.ConversationID).Scan(&lastCreated)
	switch {
	case err == sql.ErrNoRows:
		// first message of the conversation
	case err != nil:
		return fmt.Errorf("failed to read last message time: %w", err)
	case msg.CreatedAt.Before(lastCreated):
		msg.CreatedAt = lastCreated
	}

	metadataJSON, err := marshalMetadata(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal message metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, metadataJSON, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = ?, updated_at = ? WHERE id = ?`,
		msg.CreatedAt, now, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// RecentWindow returns the last `limit` messages of a conversation in
// chronological order. A missing conversation yields an empty window.
func (s *ConversationStore) RecentWindow(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, metadata_json, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query window: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Flip back to chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var conv models.Conversation
	var ended, lastMessage sql.NullTime
	err := row.Scan(&conv.ID, &conv.UserID, &conv.StartedAt, &ended, &lastMessage, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	if ended.Valid {
		conv.EndedAt = &ended.Time
	}
	if lastMessage.Valid {
		conv.LastMessageAt = &lastMessage.Time
	}
	return &conv, nil
}

func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var metadataJSON sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &metadataJSON, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		metadata, err := unmarshalMetadata(metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("corrupt metadata for message %s: %w", msg.ID, err)
		}
		msg.Metadata = metadata
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}
