// Package copilot is a retrieval augmented answering engine. Documents
// are ingested into embedded chunks, questions are answered from
// retrieved evidence, and every answer is recorded as an auditable run.
package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/copilot/core/answer"
	"github.com/siherrmann/copilot/core/idempotency"
	"github.com/siherrmann/copilot/core/pipeline"
	"github.com/siherrmann/copilot/core/retrieval"
	"github.com/siherrmann/copilot/core/trace"
	"github.com/siherrmann/copilot/database"
	"github.com/siherrmann/copilot/helper"
	"github.com/siherrmann/copilot/model"
)

// Copilot wires the ingestion pipeline, retrieval engine, orchestrator,
// idempotency guard, and trace recorder over one store.
type Copilot struct {
	Store        database.Store
	Ingestor     *pipeline.Ingestor
	Engine       *retrieval.Engine
	Recorder     *trace.Recorder
	Guard        *idempotency.Guard
	Orchestrator *answer.Orchestrator
	Config       *model.Config
	log          *slog.Logger
}

// New creates a Copilot on the given store. The embedder and generator
// are optional: without an embedder retrieval runs keyword-only, and
// without a generator the generative mode degrades to deterministic
// synthesis. A nil config uses the defaults.
func New(store database.Store, embedder pipeline.Embedder, generator answer.GenerationProvider, config *model.Config) (*Copilot, error) {
	if store == nil {
		return nil, helper.NewError("copilot validation", fmt.Errorf("store is nil"))
	}
	if config == nil {
		config = model.DefaultConfig()
	}

	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	ingestEmbedder := embedder
	if ingestEmbedder == nil {
		// Keyword-only setups still need chunk rows; the hash embedder
		// keeps ingestion working without a model.
		ingestEmbedder = pipeline.NewHashEmbedder(64)
	}

	chunker := pipeline.FixedChunker(config.Ingestion.MaxChars, config.Ingestion.OverlapChars)
	ingestor, err := pipeline.NewIngestor(store, ingestEmbedder, chunker, config.Ingestion, logger)
	if err != nil {
		return nil, helper.NewError("create ingestor", err)
	}

	engine, err := retrieval.NewEngine(store, embedder, config.Retrieval, logger)
	if err != nil {
		return nil, helper.NewError("create retrieval engine", err)
	}

	recorder, err := trace.NewRecorder(store, logger)
	if err != nil {
		return nil, helper.NewError("create recorder", err)
	}

	guard, err := idempotency.NewGuard(store, config.Idempotency, logger)
	if err != nil {
		return nil, helper.NewError("create idempotency guard", err)
	}

	orchestrator, err := answer.NewOrchestrator(store, engine, recorder, generator, config.Policy, config.Retrieval, logger)
	if err != nil {
		return nil, helper.NewError("create orchestrator", err)
	}

	return &Copilot{
		Store:        store,
		Ingestor:     ingestor,
		Engine:       engine,
		Recorder:     recorder,
		Guard:        guard,
		Orchestrator: orchestrator,
		Config:       config,
		log:          logger,
	}, nil
}

// NewMemory creates a Copilot on an in-memory store.
func NewMemory(embedder pipeline.Embedder, generator answer.GenerationProvider, config *model.Config) (*Copilot, error) {
	return New(database.NewMemoryStore(), embedder, generator, config)
}

// NewPostgres creates a Copilot on a Postgres store with pgvector. The
// chunk embedding column is sized for the given embedder; without one
// the hash embedder's dimension is used.
func NewPostgres(dbConfig *helper.DatabaseConfiguration, embedder pipeline.Embedder, generator answer.GenerationProvider, config *model.Config) (*Copilot, error) {
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	dimensions := 64
	if embedder != nil {
		dimensions = embedder.Dimensions()
	}

	db := helper.NewDatabase("copilot", dbConfig, logger)
	store, err := database.NewPostgresStore(db, dimensions)
	if err != nil {
		return nil, err
	}
	return New(store, embedder, generator, config)
}

// UploadText stores a document and schedules it for background
// ingestion. When the ingestion queue is saturated the document is
// ingested synchronously instead of being dropped.
func (c *Copilot) UploadText(ctx context.Context, title, content string) (*model.Document, error) {
	document, err := c.insertDocument(ctx, title, content)
	if err != nil {
		return nil, err
	}

	if err := c.Ingestor.Enqueue(ctx, document.ID); err != nil {
		if !errors.Is(err, model.ErrQueueFull) {
			return nil, err
		}
		c.log.Warn("Ingestion queue full, ingesting synchronously", "document", document.ID)
		if err := c.Ingestor.Ingest(ctx, document.ID); err != nil {
			return nil, err
		}
	}
	return c.Store.GetDocument(ctx, document.ID)
}

// UploadAndWait stores a document and ingests it before returning.
func (c *Copilot) UploadAndWait(ctx context.Context, title, content string) (*model.Document, error) {
	document, err := c.insertDocument(ctx, title, content)
	if err != nil {
		return nil, err
	}
	if err := c.Ingestor.Ingest(ctx, document.ID); err != nil {
		return nil, err
	}
	return c.Store.GetDocument(ctx, document.ID)
}

func (c *Copilot) insertDocument(ctx context.Context, title, content string) (*model.Document, error) {
	if title == "" {
		return nil, helper.NewError("upload document", fmt.Errorf("title is empty: %w", model.ErrInvalidInput))
	}
	document := model.NewDocument(title, content)
	document.CreatedAt = time.Now()
	document.UpdatedAt = document.CreatedAt
	if err := c.Store.InsertDocument(ctx, document); err != nil {
		return nil, err
	}
	c.log.Info("Uploaded document", "document", document.ID, "title", title)
	return document, nil
}

// GetDocument returns a document with its current ingestion status.
func (c *Copilot) GetDocument(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	return c.Store.GetDocument(ctx, id)
}

// ListDocuments returns documents, newest first.
func (c *Copilot) ListDocuments(ctx context.Context, limit int) ([]*model.Document, error) {
	return c.Store.ListDocuments(ctx, limit)
}

// Ask answers one question. With an idempotency key, retries of the
// same request replay the stored response byte for byte; the same key
// with a different payload is rejected as a conflict.
func (c *Copilot) Ask(ctx context.Context, req *model.AskRequest) (*model.AskResponse, error) {
	if req == nil {
		return nil, helper.NewError("validate ask request", model.ErrInvalidInput)
	}
	if err := req.Normalize(); err != nil {
		return nil, helper.NewError("validate ask request", err)
	}

	key := idempotency.NormalizeKey(req.IdempotencyKey)
	if key == "" {
		return c.Orchestrator.Answer(ctx, req)
	}

	outcome, err := c.Guard.Begin(ctx, key, idempotency.Fingerprint(req))
	if err != nil {
		return nil, err
	}
	if !outcome.Proceed {
		response := &model.AskResponse{}
		if err := json.Unmarshal(outcome.Response, response); err != nil {
			return nil, helper.NewError("replay stored response", err)
		}
		response.Replayed = true
		return response, nil
	}

	response, err := c.Orchestrator.Answer(ctx, req)
	if err != nil {
		if failErr := c.Guard.Fail(ctx, key); failErr != nil {
			c.log.Error("Failed to mark idempotency record as failed", "key", key, "error", failErr)
		}
		return nil, err
	}
	if err := c.Guard.Complete(ctx, key, response.RunID, response); err != nil {
		return nil, err
	}
	return response, nil
}

// GetRun returns a finished run.
func (c *Copilot) GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	return c.Recorder.GetRun(ctx, id)
}

// ListRuns returns finished runs, newest first.
func (c *Copilot) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	return c.Recorder.ListRuns(ctx, limit)
}

// GetRunSteps returns all steps of a run in append order.
func (c *Copilot) GetRunSteps(ctx context.Context, runID uuid.UUID) ([]*model.Step, error) {
	return c.Recorder.Steps(ctx, runID)
}

// RunSteps returns a restartable sequence over the steps of a run.
func (c *Copilot) RunSteps(ctx context.Context, runID uuid.UUID) iter.Seq2[*model.Step, error] {
	return c.Recorder.ListSteps(ctx, runID)
}

// Close drains the ingestion queue and closes the store and, when it
// holds one, the embedder session.
func (c *Copilot) Close() error {
	c.Ingestor.Close()
	var errs []error
	if closer, ok := c.Engine.Embedder().(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
