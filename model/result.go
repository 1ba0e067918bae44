package model

import "github.com/google/uuid"

// EvidenceItem is a retrieved passage believed relevant to a question.
// Snippet holds a bounded excerpt, never the full chunk text.
type EvidenceItem struct {
	DocumentID    uuid.UUID `json:"document_id"`
	DocumentTitle string    `json:"document_title"`
	ChunkID       uuid.UUID `json:"chunk_id"`
	ChunkIndex    int       `json:"chunk_index"`
	Snippet       string    `json:"snippet"`
	Score         float64   `json:"score"`
	MatchedTerms  []string  `json:"matched_terms,omitempty"`
	Retriever     Strategy  `json:"retriever_hint,omitempty"`
}

// AskResponse is the result of one orchestrated ask invocation.
type AskResponse struct {
	RunID     uuid.UUID      `json:"run_id"`
	Answer    string         `json:"answer"`
	Sources   []EvidenceItem `json:"sources"`
	Route     Route          `json:"route"`
	Mode      AnswerMode     `json:"answer_mode"`
	Retriever Strategy       `json:"retriever_used"`
	Degraded  bool           `json:"degraded,omitempty"`
	Replayed  bool           `json:"idempotent_replay,omitempty"`
}
