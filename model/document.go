package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the lifecycle state of a document in the ingestion
// state machine.
type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "uploaded"
	DocumentProcessing DocumentStatus = "processing"
	DocumentEmbedded   DocumentStatus = "embedded"
	DocumentFailed     DocumentStatus = "failed"
)

// documentTransitions is the explicit transition table for document status.
// Terminal states are embedded and failed; failed may re-enter processing
// so a failed document can be re-ingested.
var documentTransitions = map[DocumentStatus][]DocumentStatus{
	DocumentUploaded:   {DocumentProcessing},
	DocumentProcessing: {DocumentEmbedded, DocumentFailed},
	DocumentFailed:     {DocumentProcessing},
}

// CanTransition reports whether the document lifecycle allows moving
// from one status to another.
func CanTransition(from, to DocumentStatus) bool {
	for _, allowed := range documentTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status is a terminal ingestion state.
func (s DocumentStatus) Terminal() bool {
	return s == DocumentEmbedded || s == DocumentFailed
}

// Document represents an uploaded source document. Status is mutated only
// by the ingestion pipeline through the transition table above.
type Document struct {
	ID          uuid.UUID      `json:"id"`
	Title       string         `json:"title"`
	Content     string         `json:"content,omitempty"`
	ContentHash string         `json:"content_hash,omitempty"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	ChunkCount  int            `json:"chunk_count"`
	Metadata    Metadata       `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// NewDocument creates a document in the uploaded state with its content
// hash already computed.
func NewDocument(title, content string) *Document {
	return &Document{
		ID:          uuid.New(),
		Title:       title,
		Content:     content,
		ContentHash: HashText(content),
		Status:      DocumentUploaded,
		Metadata:    Metadata{},
	}
}

// HashText returns the hex sha256 of the given text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
