package model

import (
	"time"

	"github.com/google/uuid"
)

// Chunk represents one passage of a document. Index is the zero-based
// ordinal defining reconstruction order; ordinals of a document are
// contiguous starting at 0.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding,omitempty"`
	StartPos   int       `json:"start_pos"`
	EndPos     int       `json:"end_pos"`
	CreatedAt  time.Time `json:"created_at"`

	// Result fields, populated only by retrieval queries.
	DocumentTitle string   `json:"document_title,omitempty"`
	Similarity    float64  `json:"similarity,omitempty"`
	Score         float64  `json:"score,omitempty"`
	MatchedTerms  []string `json:"matched_terms,omitempty"`
}

// Snippet returns at most max characters of the chunk text. It never
// returns the full text when the text exceeds max.
func (c *Chunk) Snippet(max int) string {
	return SnippetOf(c.Text, max)
}

// SnippetOf bounds text to max characters, cutting on a rune boundary.
func SnippetOf(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
