package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"careline/internal/store"
)

// ConversationHandler handles conversation read requests
type ConversationHandler struct {
	convs *store.ConversationStore
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(convs *store.ConversationStore) *ConversationHandler {
	return &ConversationHandler{convs: convs}
}

// Get returns one conversation with its ordered messages
// GET /api/conversations/:id
func (h *ConversationHandler) Get(c *fiber.Ctx) error {
	conversationID := c.Params("id")
	if conversationID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Conversation ID is required",
		})
	}

	conv, err := h.convs.GetWithMessages(c.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Conversation not found",
			})
		}
		log.Printf("❌ [CONVERSATION] Load failed for %s: %v", conversationID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load conversation",
		})
	}

	return c.JSON(conv)
}

// ListByUser returns a user's conversations, most recent first
// GET /api/users/:userID/conversations
func (h *ConversationHandler) ListByUser(c *fiber.Ctx) error {
	userID := c.Params("userID")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	limit := c.QueryInt("limit", 10)
	offset := c.QueryInt("offset", 0)

	conversations, err := h.convs.ListByUser(c.Context(), userID, limit, offset)
	if err != nil {
		log.Printf("❌ [CONVERSATION] List failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list conversations",
		})
	}

	return c.JSON(fiber.Map{
		"conversations": conversations,
		"count":         len(conversations),
	})
}
