package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/copilot/database"
	"github.com/siherrmann/copilot/helper"
	"github.com/siherrmann/copilot/model"
)

// Ingestor drives documents through the ingestion state machine. A
// document is chunked, every chunk embedded, and all chunks inserted
// together before the document becomes embedded. Acquiring the
// processing status is a compare-and-set, so concurrent ingests of the
// same document run the pipeline exactly once.
type Ingestor struct {
	store    database.Store
	embedder Embedder
	chunker  ChunkFunc
	config   model.IngestionConfig
	log      *slog.Logger

	queue  chan uuid.UUID
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewIngestor creates an ingestor and starts its worker pool.
func NewIngestor(store database.Store, embedder Embedder, chunker ChunkFunc, config model.IngestionConfig, logger *slog.Logger) (*Ingestor, error) {
	if store == nil {
		return nil, helper.NewError("ingestor validation", fmt.Errorf("store is nil"))
	}
	if embedder == nil {
		return nil, helper.NewError("ingestor validation", fmt.Errorf("embedder is nil"))
	}
	if chunker == nil {
		chunker = FixedChunker(config.MaxChars, config.OverlapChars)
	}
	if logger == nil {
		logger = slog.Default()
	}

	ingestor := &Ingestor{
		store:    store,
		embedder: embedder,
		chunker:  chunker,
		config:   config,
		log:      logger,
		queue:    make(chan uuid.UUID, config.QueueSize),
	}

	for i := 0; i < config.Workers; i++ {
		ingestor.wg.Add(1)
		go ingestor.worker()
	}
	return ingestor, nil
}

func (n *Ingestor) worker() {
	defer n.wg.Done()
	for id := range n.queue {
		if err := n.Ingest(context.Background(), id); err != nil {
			n.log.Error("Ingestion failed", "document", id, "error", err)
		}
	}
}

// Enqueue schedules a document for background ingestion. It never
// blocks; a full queue is reported to the caller instead.
func (n *Ingestor) Enqueue(ctx context.Context, id uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return helper.NewError("enqueue document", model.ErrQueueClosed)
	}

	select {
	case n.queue <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return helper.NewError("enqueue document", model.ErrQueueFull)
	}
}

// Ingest runs the pipeline for one document synchronously. When the
// document is already processing or embedded the call is a no-op.
func (n *Ingestor) Ingest(ctx context.Context, id uuid.UUID) error {
	document, err := n.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}

	acquired, err := n.acquire(ctx, document)
	if err != nil {
		return err
	}
	if !acquired {
		n.log.Debug("Skipping ingestion, document not acquirable", "document", id, "status", document.Status)
		return nil
	}

	chunks, err := n.buildChunks(ctx, document)
	if err != nil {
		return n.fail(ctx, id, err)
	}
	if len(chunks) == 0 {
		return n.fail(ctx, id, fmt.Errorf("document has no content"))
	}

	if err := n.store.InsertChunks(ctx, chunks); err != nil {
		return n.fail(ctx, id, err)
	}
	if err := n.store.UpdateDocumentMeta(ctx, id, len(chunks), model.HashText(document.Content)); err != nil {
		return n.fail(ctx, id, err)
	}

	if _, err := n.store.TransitionDocument(ctx, id, model.DocumentProcessing, model.DocumentEmbedded, ""); err != nil {
		return err
	}
	n.log.Info("Ingested document", "document", id, "chunks", len(chunks))
	return nil
}

// acquire moves the document into processing. A fresh document comes
// from uploaded; a failed document is retried after its stale chunks
// are removed. Exactly one caller wins the transition.
func (n *Ingestor) acquire(ctx context.Context, document *model.Document) (bool, error) {
	switch document.Status {
	case model.DocumentUploaded:
		return n.store.TransitionDocument(ctx, document.ID, model.DocumentUploaded, model.DocumentProcessing, "")
	case model.DocumentFailed:
		won, err := n.store.TransitionDocument(ctx, document.ID, model.DocumentFailed, model.DocumentProcessing, "")
		if err != nil || !won {
			return won, err
		}
		if err := n.store.DeleteChunks(ctx, document.ID); err != nil {
			return false, n.fail(ctx, document.ID, err)
		}
		return true, nil
	default:
		return false, nil
	}
}

// buildChunks chunks the document and embeds all chunks in parallel.
// Each embedding gets one retry after a short backoff; any chunk still
// failing fails the whole document.
func (n *Ingestor) buildChunks(ctx context.Context, document *model.Document) ([]*model.Chunk, error) {
	spans, err := n.chunker(document.Content)
	if err != nil {
		return nil, helper.NewError("chunk document", err)
	}
	if len(spans) == 0 {
		return []*model.Chunk{}, nil
	}

	chunks := make([]*model.Chunk, len(spans))
	errs := make([]error, len(spans))
	var wg sync.WaitGroup
	for i, span := range spans {
		wg.Add(1)
		go func(i int, span ChunkSpan) {
			defer wg.Done()
			embedding, err := n.embedWithRetry(ctx, span.Text)
			if err != nil {
				errs[i] = err
				return
			}
			chunks[i] = &model.Chunk{
				ID:         uuid.New(),
				DocumentID: document.ID,
				Index:      i,
				Text:       span.Text,
				Embedding:  embedding,
				StartPos:   span.StartPos,
				EndPos:     span.EndPos,
				CreatedAt:  time.Now(),
			}
		}(i, span)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, helper.NewError("embed chunk", err)
		}
	}
	return chunks, nil
}

func (n *Ingestor) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	embedding, err := n.embedOnce(ctx, text)
	if err == nil {
		return embedding, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	select {
	case <-time.After(n.config.RetryBackoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return n.embedOnce(ctx, text)
}

func (n *Ingestor) embedOnce(ctx context.Context, text string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, n.config.EmbedTimeout)
	defer cancel()
	return n.embedder.Embed(embedCtx, text)
}

// fail records the cause on the document and returns the original error.
func (n *Ingestor) fail(ctx context.Context, id uuid.UUID, cause error) error {
	if _, err := n.store.TransitionDocument(ctx, id, model.DocumentProcessing, model.DocumentFailed, cause.Error()); err != nil {
		n.log.Error("Failed to mark document as failed", "document", id, "error", err)
	}
	return cause
}

// Close stops accepting new documents and waits for in-flight
// ingestions to finish.
func (n *Ingestor) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	n.wg.Wait()
}
