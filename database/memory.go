package database

import (
	"context"
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/copilot/model"
)

// MemoryStore is a mutex-guarded in-memory Store with brute-force cosine
// similarity search. It backs tests and single-process deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[uuid.UUID]*model.Document
	chunks    map[uuid.UUID][]*model.Chunk
	runs      map[uuid.UUID]*model.Run
	steps     map[uuid.UUID][]*model.Step
	records   map[string]*model.IdempotencyRecord
	stepSeq   int64
	docOrder  []uuid.UUID
	runOrder  []uuid.UUID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[uuid.UUID]*model.Document),
		chunks:    make(map[uuid.UUID][]*model.Chunk),
		runs:      make(map[uuid.UUID]*model.Run),
		steps:     make(map[uuid.UUID][]*model.Step),
		records:   make(map[string]*model.IdempotencyRecord),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) InsertDocument(ctx context.Context, doc *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[doc.ID]; exists {
		return model.ErrInvalidInput
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	cp := *doc
	s.documents[doc.ID] = &cp
	s.docOrder = append(s.docOrder, doc.ID)
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, limit int) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Document, 0, limit)
	for i := len(s.docOrder) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.documents[s.docOrder[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) TransitionDocument(ctx context.Context, id uuid.UUID, from, to model.DocumentStatus, cause string) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, model.ErrInvalidTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return false, model.ErrNotFound
	}
	if doc.Status != from {
		return false, nil
	}
	doc.Status = to
	doc.Error = cause
	doc.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) UpdateDocumentMeta(ctx context.Context, id uuid.UUID, chunkCount int, contentHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return model.ErrNotFound
	}
	doc.ChunkCount = chunkCount
	doc.ContentHash = contentHash
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) InsertChunks(ctx context.Context, chunks []*model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, chunk := range chunks {
		if _, ok := s.documents[chunk.DocumentID]; !ok {
			return model.ErrNotFound
		}
		cp := *chunk
		cp.CreatedAt = now
		s.chunks[chunk.DocumentID] = append(s.chunks[chunk.DocumentID], &cp)
	}
	return nil
}

func (s *MemoryStore) ChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]*model.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks := s.chunks[documentID]
	out := make([]*model.Chunk, len(chunks))
	for i, chunk := range chunks {
		cp := *chunk
		if doc, ok := s.documents[documentID]; ok {
			cp.DocumentTitle = doc.Title
		}
		out[i] = &cp
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) DeleteChunks(ctx context.Context, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, documentID)
	return nil
}

// VectorSearch ranks chunks of embedded documents by cosine similarity,
// mapped to [0..1] as (1+cos)/2 so it matches the Postgres scoring.
func (s *MemoryStore) VectorSearch(ctx context.Context, embedding []float32, topK int, scope *uuid.UUID) ([]*model.Chunk, error) {
	if topK <= 0 {
		topK = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*model.Chunk
	for docID, chunks := range s.chunks {
		doc, ok := s.documents[docID]
		if !ok || doc.Status != model.DocumentEmbedded {
			continue
		}
		if scope != nil && docID != *scope {
			continue
		}
		for _, chunk := range chunks {
			if len(chunk.Embedding) == 0 {
				continue
			}
			cp := *chunk
			cp.DocumentTitle = doc.Title
			cp.Similarity = (1 + cosine(chunk.Embedding, embedding)) / 2
			matches = append(matches, &cp)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Index < matches[j].Index
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// KeywordCandidates returns chunks of embedded documents whose text or
// document title contains any term as a whole word, most recent first.
func (s *MemoryStore) KeywordCandidates(ctx context.Context, terms []string, limit int, scope *uuid.UUID) ([]*model.Chunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	patterns := make([]*regexp.Regexp, 0, len(terms))
	for _, term := range terms {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
		if err != nil {
			continue
		}
		patterns = append(patterns, re)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*model.Chunk
	for docID, chunks := range s.chunks {
		doc, ok := s.documents[docID]
		if !ok || doc.Status != model.DocumentEmbedded {
			continue
		}
		if scope != nil && docID != *scope {
			continue
		}
		for _, chunk := range chunks {
			haystack := chunk.Text + "\n" + doc.Title
			for _, re := range patterns {
				if re.MatchString(haystack) {
					cp := *chunk
					cp.DocumentTitle = doc.Title
					matches = append(matches, &cp)
					break
				}
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].Index < matches[j].Index
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *MemoryStore) InsertRun(ctx context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return model.ErrInvalidInput
	}
	cp := *run
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.runs[run.ID] = &cp
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Run, 0, limit)
	for i := len(s.runOrder) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.runs[s.runOrder[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) AppendStep(ctx context.Context, step *model.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepSeq++
	cp := *step
	cp.Seq = s.stepSeq
	cp.CreatedAt = time.Now()
	s.steps[step.RunID] = append(s.steps[step.RunID], &cp)
	step.Seq = cp.Seq
	return nil
}

func (s *MemoryStore) StepsByRun(ctx context.Context, runID uuid.UUID) ([]*model.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := s.steps[runID]
	out := make([]*model.Step, len(steps))
	for i, step := range steps {
		cp := *step
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) CreateIdempotencyRecord(ctx context.Context, rec *model.IdempotencyRecord) (bool, *model.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.Key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	now := time.Now()
	cp := *rec
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.records[rec.Key] = &cp
	return true, nil, nil
}

func (s *MemoryStore) GetIdempotencyRecord(ctx context.Context, key string) (*model.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) CompleteIdempotencyRecord(ctx context.Context, key string, runID uuid.UUID, response json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return model.ErrNotFound
	}
	rec.Status = model.IdempotencyCompleted
	rec.RunID = runID
	rec.Response = append(json.RawMessage(nil), response...)
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) FailIdempotencyRecord(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return model.ErrNotFound
	}
	rec.Status = model.IdempotencyFailed
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ReclaimIdempotencyRecord(ctx context.Context, key, fingerprint string, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return false, model.ErrNotFound
	}
	if rec.Fingerprint != fingerprint {
		return false, nil
	}
	stale := rec.Status == model.IdempotencyInProgress && rec.UpdatedAt.Before(staleBefore)
	if rec.Status != model.IdempotencyFailed && !stale {
		return false, nil
	}
	rec.Status = model.IdempotencyInProgress
	rec.Response = nil
	rec.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
