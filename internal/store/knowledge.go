package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"careline/internal/database"
	"careline/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = fmt.Errorf("not found")

// KnowledgeStore persists documents and their embedding chunks and serves
// cosine-similarity search with metadata filters.
type KnowledgeStore struct {
	db        *database.DB
	dimension int
}

// NewKnowledgeStore creates a knowledge store bound to the configured
// embedding dimension.
func NewKnowledgeStore(db *database.DB, dimension int) *KnowledgeStore {
	return &KnowledgeStore{db: db, dimension: dimension}
}

// UpsertDocument inserts or replaces a document together with its chunks in
// one transaction. A partial insert is rolled back entirely.
func (s *KnowledgeStore) UpsertDocument(ctx context.Context, doc *models.Document, chunks []models.Chunk) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("document must have at least one chunk")
	}
	seen := make(map[int]bool, len(chunks))
	for i := range chunks {
		if chunks[i].ChunkIndex < 0 {
			return fmt.Errorf("chunk index must be >= 0, got %d", chunks[i].ChunkIndex)
		}
		if seen[chunks[i].ChunkIndex] {
			return fmt.Errorf("duplicate chunk index %d", chunks[i].ChunkIndex)
		}
		seen[chunks[i].ChunkIndex] = true
		if len(chunks[i].Vector) != s.dimension {
			return fmt.Errorf("chunk %d vector dimension %d does not match store dimension %d",
				chunks[i].ChunkIndex, len(chunks[i].Vector), s.dimension)
		}
	}

	now := time.Now().UTC()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Replace semantics: drop any previous version of the document
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to clear old chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to clear old document: %w", err)
	}

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, source, category, language, published_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Content, doc.Source, doc.Category, doc.Language,
		nullableTime(doc.PublishedDate), doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	for i := range chunks {
		chunk := &chunks[i]
		if chunk.ID == "" {
			chunk.ID = uuid.NewString()
		}
		chunk.DocumentID = doc.ID
		chunk.CreatedAt = now

		metadataJSON, err := marshalMetadata(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk metadata: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, chunk_index, content, vector, metadata_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			chunk.ID, chunk.DocumentID, chunk.ChunkIndex, chunk.Content,
			encodeVector(chunk.Vector), metadataJSON, chunk.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document insert: %w", err)
	}
	return nil
}

// GetDocument loads a document by id.
func (s *KnowledgeStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, source, category, language, published_date, created_at, updated_at
		FROM documents WHERE id = ?`, id)

	var doc models.Document
	var published sql.NullTime
	err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.Source, &doc.Category,
		&doc.Language, &published, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if published.Valid {
		doc.PublishedDate = &published.Time
	}
	return &doc, nil
}

// Search returns the top-k chunks by cosine similarity to the query vector,
// applying the conjunctive filters. Results arrive in descending score order.
// k <= 0 returns an empty list.
func (s *KnowledgeStore) Search(ctx context.Context, vector []float32, k int, filters models.SearchFilters) ([]models.SearchResult, error) {
	if k <= 0 {
		return []models.SearchResult{}, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query vector dimension %d does not match store dimension %d", len(vector), s.dimension)
	}

	query := `
		SELECT c.content, c.vector, c.metadata_json, d.title
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE 1=1`
	args := []interface{}{}

	if filters.Category != "" {
		query += ` AND d.category = ?`
		args = append(args, filters.Category)
	}
	if filters.Language != "" {
		query += ` AND d.language = ?`
		args = append(args, filters.Language)
	}
	if filters.PublishedFrom != nil {
		query += ` AND d.published_date >= ?`
		args = append(args, *filters.PublishedFrom)
	}
	if filters.PublishedTo != nil {
		query += ` AND d.published_date <= ?`
		args = append(args, *filters.PublishedTo)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var content, title string
		var blob []byte
		var metadataJSON sql.NullString
		if err := rows.Scan(&content, &blob, &metadataJSON, &title); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}

		chunkVec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("corrupt vector for chunk of %q: %w", title, err)
		}

		metadata, err := unmarshalMetadata(metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("corrupt metadata for chunk of %q: %w", title, err)
		}

		results = append(results, models.SearchResult{
			ChunkText:     content,
			DocumentTitle: title,
			Score:         cosineSimilarity(vector, chunkVec),
			Metadata:      metadata,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	return results, nil
}

// GetCase loads the case record for a user, or ErrNotFound.
func (s *KnowledgeStore) GetCase(ctx context.Context, userID string) (*models.Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, nickname, language, stage, goals_json, created_at, updated_at
		FROM cases WHERE user_id = ?`, userID)

	var c models.Case
	var nickname, language, stage, goalsJSON sql.NullString
	err := row.Scan(&c.UserID, &nickname, &language, &stage, &goalsJSON, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load case: %w", err)
	}
	c.Nickname = nickname.String
	c.Language = language.String
	c.Stage = stage.String
	if goalsJSON.Valid && goalsJSON.String != "" {
		if err := json.Unmarshal([]byte(goalsJSON.String), &c.Goals); err != nil {
			return nil, fmt.Errorf("corrupt goals for case %s: %w", userID, err)
		}
	}
	return &c, nil
}

// UpsertCase inserts or updates a user's case record.
func (s *KnowledgeStore) UpsertCase(ctx context.Context, c *models.Case) error {
	if c.UserID == "" {
		return fmt.Errorf("case user_id is required")
	}
	goalsJSON, err := json.Marshal(c.Goals)
	if err != nil {
		return fmt.Errorf("failed to marshal goals: %w", err)
	}
	now := time.Now().UTC()
	c.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		UPDATE cases SET nickname = ?, language = ?, stage = ?, goals_json = ?, updated_at = ?
		WHERE user_id = ?`,
		c.Nickname, c.Language, c.Stage, string(goalsJSON), c.UpdatedAt, c.UserID)
	if err != nil {
		return fmt.Errorf("failed to update case: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		return nil
	}

	c.CreatedAt = now
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cases (user_id, nickname, language, stage, goals_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.Nickname, c.Language, c.Stage, string(goalsJSON), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}
	return nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func marshalMetadata(m map[string]string) (interface{}, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMetadata(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
