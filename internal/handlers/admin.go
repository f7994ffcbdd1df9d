package handlers

import (
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"careline/internal/models"
	"careline/internal/services"
	"careline/internal/store"
)

// AdminHandler handles knowledge-base ingestion requests
type AdminHandler struct {
	knowledge *store.KnowledgeStore
	embedder  services.EmbedClient
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(knowledge *store.KnowledgeStore, embedder services.EmbedClient) *AdminHandler {
	return &AdminHandler{knowledge: knowledge, embedder: embedder}
}

type ingestRequest struct {
	ID            string            `json:"id,omitempty"`
	Title         string            `json:"title"`
	Content       string            `json:"content"`
	Source        string            `json:"source"`
	Category      string            `json:"category"`
	Language      string            `json:"language"`
	PublishedDate *time.Time        `json:"published_date,omitempty"`
	Chunks        []string          `json:"chunks,omitempty"` // defaults to one chunk per document
	Metadata      map[string]string `json:"metadata,omitempty"`
	Contact       *models.Contact   `json:"contact,omitempty"` // structured contact fields for institution documents
}

// IngestDocument embeds and stores one document with its chunks
// POST /api/admin/documents
func (h *AdminHandler) IngestDocument(c *fiber.Ctx) error {
	var req ingestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	doc := &models.Document{
		ID:            req.ID,
		Title:         strings.TrimSpace(req.Title),
		Content:       strings.TrimSpace(req.Content),
		Source:        strings.TrimSpace(req.Source),
		Category:      strings.TrimSpace(req.Category),
		Language:      req.Language,
		PublishedDate: req.PublishedDate,
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if err := doc.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	metadata := req.Metadata
	if req.Contact != nil {
		if strings.TrimSpace(req.Contact.Organization) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "contact organization is required",
			})
		}
		merged := req.Contact.ToMetadata()
		for k, v := range req.Metadata {
			merged[k] = v
		}
		metadata = merged
	}

	texts := req.Chunks
	if len(texts) == 0 {
		texts = []string{doc.Content}
	}

	vectors, err := h.embedder.EmbedBatch(c.Context(), texts)
	if err != nil {
		log.Printf("❌ [ADMIN] Embedding failed for document %q: %v", doc.Title, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to embed document",
		})
	}

	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{
			DocumentID: doc.ID,
			ChunkIndex: i,
			Content:    text,
			Vector:     vectors[i],
			Metadata:   metadata,
		}
	}

	if err := h.knowledge.UpsertDocument(c.Context(), doc, chunks); err != nil {
		log.Printf("❌ [ADMIN] Upsert failed for document %q: %v", doc.Title, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store document",
		})
	}

	log.Printf("📚 [ADMIN] Ingested document %q with %d chunks", doc.Title, len(chunks))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":     doc.ID,
		"chunks": len(chunks),
	})
}
