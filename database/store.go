// Package database provides the persistence port of the answering engine
// and its in-memory and Postgres implementations.
package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/copilot/model"
)

// Store is the persistence capability consumed by the pipeline, retrieval
// engine, orchestrator, idempotency guard, and trace recorder. Document
// status changes and idempotency record transitions have compare-and-set
// semantics; steps are append-only.
type Store interface {
	// Documents.
	InsertDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*model.Document, error)
	ListDocuments(ctx context.Context, limit int) ([]*model.Document, error)
	// TransitionDocument atomically moves a document from one status to
	// another, recording cause on failure transitions. It returns false
	// without error when the document is not in the from status.
	TransitionDocument(ctx context.Context, id uuid.UUID, from, to model.DocumentStatus, cause string) (bool, error)
	// UpdateDocumentMeta updates chunk count and content hash only;
	// status is never written through this method.
	UpdateDocumentMeta(ctx context.Context, id uuid.UUID, chunkCount int, contentHash string) error

	// Chunks.
	InsertChunks(ctx context.Context, chunks []*model.Chunk) error
	ChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Chunk, error)
	DeleteChunks(ctx context.Context, documentID uuid.UUID) error

	// Search over chunks of embedded documents only. Scope, when given,
	// is a hard filter applied before ranking.
	VectorSearch(ctx context.Context, embedding []float32, topK int, scope *uuid.UUID) ([]*model.Chunk, error)
	KeywordCandidates(ctx context.Context, terms []string, limit int, scope *uuid.UUID) ([]*model.Chunk, error)

	// Runs and steps.
	InsertRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]*model.Run, error)
	AppendStep(ctx context.Context, step *model.Step) error
	StepsByRun(ctx context.Context, runID uuid.UUID) ([]*model.Step, error)

	// Idempotency records. CreateIdempotencyRecord returns created=false
	// and the existing record when the key is already present.
	CreateIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord) (created bool, existing *model.IdempotencyRecord, err error)
	GetIdempotencyRecord(ctx context.Context, key string) (*model.IdempotencyRecord, error)
	CompleteIdempotencyRecord(ctx context.Context, key string, runID uuid.UUID, response json.RawMessage) error
	FailIdempotencyRecord(ctx context.Context, key string) error
	// ReclaimIdempotencyRecord atomically re-acquires a failed record, or
	// an in_progress record last touched before staleBefore, for the given
	// fingerprint. It returns true when the caller now owns the record.
	ReclaimIdempotencyRecord(ctx context.Context, key, fingerprint string, staleBefore time.Time) (bool, error)

	Close() error
}
