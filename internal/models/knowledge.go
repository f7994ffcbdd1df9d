package models

import (
	"fmt"
	"strings"
	"time"
)

// Supported knowledge-base language tags
var SupportedLanguages = []string{"zh-TW", "en", "vi", "id", "th"}

// Document is a knowledge-base entry. A document owns one or more
// embedding chunks.
type Document struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	Source        string     `json:"source"`
	Category      string     `json:"category"`
	Language      string     `json:"language"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Validate checks the document invariants before persistence.
func (d *Document) Validate() error {
	if d.Title == "" || d.Content == "" || d.Source == "" || d.Category == "" {
		return fmt.Errorf("document title, content, source and category are required")
	}
	for _, lang := range SupportedLanguages {
		if d.Language == lang {
			return nil
		}
	}
	return fmt.Errorf("unsupported language %q", d.Language)
}

// Chunk is one embedded slice of a document. The vector dimension must
// equal the embedding model's dimension.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	ChunkIndex int               `json:"chunk_index"`
	Content    string            `json:"content"`
	Vector     []float32         `json:"-"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Contact is the domain-specific document variant for authoritative
// institution contacts. It is stored as a regular document whose chunk
// metadata carries the structured fields.
type Contact struct {
	Organization string   `json:"organization"`
	Phone        string   `json:"phone,omitempty"`
	Email        string   `json:"email,omitempty"`
	Address      string   `json:"address,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Notes        string   `json:"notes,omitempty"`
}

// Chunk metadata keys carrying contact fields
const (
	MetaContactOrganization = "contact_organization"
	MetaContactPhone        = "contact_phone"
	MetaContactEmail        = "contact_email"
	MetaContactAddress      = "contact_address"
	MetaContactTags         = "contact_tags"
	MetaContactNotes        = "contact_notes"
)

// ToMetadata flattens the contact into chunk metadata.
func (c *Contact) ToMetadata() map[string]string {
	md := map[string]string{MetaContactOrganization: c.Organization}
	if c.Phone != "" {
		md[MetaContactPhone] = c.Phone
	}
	if c.Email != "" {
		md[MetaContactEmail] = c.Email
	}
	if c.Address != "" {
		md[MetaContactAddress] = c.Address
	}
	if len(c.Tags) > 0 {
		md[MetaContactTags] = strings.Join(c.Tags, ",")
	}
	if c.Notes != "" {
		md[MetaContactNotes] = c.Notes
	}
	return md
}

// ContactFromMetadata reconstructs the contact fields, or nil when the
// metadata carries none.
func ContactFromMetadata(md map[string]string) *Contact {
	if md == nil || md[MetaContactOrganization] == "" {
		return nil
	}
	c := &Contact{
		Organization: md[MetaContactOrganization],
		Phone:        md[MetaContactPhone],
		Email:        md[MetaContactEmail],
		Address:      md[MetaContactAddress],
		Notes:        md[MetaContactNotes],
	}
	if tags := md[MetaContactTags]; tags != "" {
		c.Tags = strings.Split(tags, ",")
	}
	return c
}

// SearchFilters narrows a vector search. Category and Language are
// conjunctive equality filters; the date range is inclusive.
type SearchFilters struct {
	Category      string
	Language      string
	PublishedFrom *time.Time
	PublishedTo   *time.Time
}

// SearchResult is one scored chunk returned by the knowledge store.
type SearchResult struct {
	ChunkText     string            `json:"chunk_text"`
	DocumentTitle string            `json:"document_title"`
	Score         float64           `json:"score"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Contact returns the structured contact carried by the hit, or nil.
func (r *SearchResult) Contact() *Contact {
	return ContactFromMetadata(r.Metadata)
}
