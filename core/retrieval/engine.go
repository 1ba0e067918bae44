package retrieval

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/siherrmann/copilot/core/pipeline"
	"github.com/siherrmann/copilot/database"
	"github.com/siherrmann/copilot/helper"
	"github.com/siherrmann/copilot/model"
)

// Engine runs retrieval strategies over the chunk store. The embedder
// is optional; without one the vector and hybrid strategies degrade to
// keyword search instead of failing.
type Engine struct {
	store    database.Store
	embedder pipeline.Embedder
	config   model.RetrievalConfig
	log      *slog.Logger
}

// Result is the outcome of one retrieval. Degraded is set when the
// requested strategy could not run and keyword search answered instead.
type Result struct {
	Items     []*model.Chunk
	Retriever model.Strategy
	Degraded  bool
}

// NewEngine creates a retrieval engine. A nil embedder is allowed.
func NewEngine(store database.Store, embedder pipeline.Embedder, config model.RetrievalConfig, logger *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, helper.NewError("retrieval engine validation", fmt.Errorf("store is nil"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		config:   config,
		log:      logger,
	}, nil
}

// Embedder returns the engine's embedder, which may be nil.
func (e *Engine) Embedder() pipeline.Embedder {
	return e.embedder
}

// Retrieve executes the given strategy for the question. Auto picks
// hybrid when an embedder is available and keyword otherwise. Scope,
// when given, restricts results to one document.
func (e *Engine) Retrieve(ctx context.Context, question string, strategy model.Strategy, topK int, scope *uuid.UUID) (*Result, error) {
	if topK <= 0 {
		topK = e.config.TopK
	}

	if strategy == model.StrategyAuto || strategy == "" {
		if e.embedder != nil {
			strategy = model.StrategyHybrid
		} else {
			strategy = model.StrategyKeyword
		}
	}

	switch strategy {
	case model.StrategyKeyword:
		items, err := e.keywordRetrieve(ctx, question, topK, scope)
		if err != nil {
			return nil, err
		}
		return &Result{Items: items, Retriever: model.StrategyKeyword}, nil
	case model.StrategyVector:
		items, err := e.vectorRetrieve(ctx, question, topK, scope)
		if err != nil {
			return e.degrade(ctx, question, topK, scope, err)
		}
		return &Result{Items: items, Retriever: model.StrategyVector}, nil
	case model.StrategyHybrid:
		return e.hybridRetrieve(ctx, question, topK, scope)
	default:
		return nil, helper.NewError("retrieve", fmt.Errorf("unknown strategy %v: %w", strategy, model.ErrInvalidInput))
	}
}

// degrade falls back to keyword search after a vector failure. The
// fallback result is marked so callers can surface the downgrade.
func (e *Engine) degrade(ctx context.Context, question string, topK int, scope *uuid.UUID, cause error) (*Result, error) {
	e.log.Warn("Vector retrieval unavailable, falling back to keyword", "error", cause)
	items, err := e.keywordRetrieve(ctx, question, topK, scope)
	if err != nil {
		return nil, err
	}
	return &Result{Items: items, Retriever: model.StrategyKeyword, Degraded: true}, nil
}

// keywordRetrieve scores candidate chunks by whole-word term hits.
// A hit in the document title weighs double a hit in the chunk text.
func (e *Engine) keywordRetrieve(ctx context.Context, question string, topK int, scope *uuid.UUID) ([]*model.Chunk, error) {
	terms := Tokenize(question)
	if len(terms) == 0 {
		return []*model.Chunk{}, nil
	}

	candidates, err := e.store.KeywordCandidates(ctx, terms, e.config.CandidateLimit, scope)
	if err != nil {
		return nil, err
	}

	matchers := compileTermMatchers(terms)
	scored := make([]*model.Chunk, 0, len(candidates))
	for _, chunk := range candidates {
		score, matched := scoreKeyword(chunk, matchers)
		if score <= 0 {
			continue
		}
		chunk.Score = score
		chunk.MatchedTerms = matched
		scored = append(scored, chunk)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].CreatedAt.Equal(scored[j].CreatedAt) {
			return scored[i].Index < scored[j].Index
		}
		return scored[i].CreatedAt.After(scored[j].CreatedAt)
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

type termMatcher struct {
	term    string
	pattern *regexp.Regexp
}

func compileTermMatchers(terms []string) []termMatcher {
	matchers := make([]termMatcher, 0, len(terms))
	for _, term := range terms {
		matchers = append(matchers, termMatcher{
			term:    term,
			pattern: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`),
		})
	}
	return matchers
}

func scoreKeyword(chunk *model.Chunk, matchers []termMatcher) (float64, []string) {
	var score float64
	var matched []string
	for _, matcher := range matchers {
		textHits := len(matcher.pattern.FindAllStringIndex(chunk.Text, -1))
		titleHits := len(matcher.pattern.FindAllStringIndex(chunk.DocumentTitle, -1))
		if textHits+titleHits == 0 {
			continue
		}
		score += float64(2*textHits + 4*titleHits)
		matched = append(matched, matcher.term)
	}
	return score, matched
}

// vectorRetrieve embeds the question and ranks chunks by cosine
// similarity, dropping matches below the configured minimum.
func (e *Engine) vectorRetrieve(ctx context.Context, question string, topK int, scope *uuid.UUID) ([]*model.Chunk, error) {
	if e.embedder == nil {
		return nil, helper.NewError("vector retrieve", model.ErrProviderUnavailable)
	}

	embedding, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, helper.NewError("embed question", err)
	}

	matches, err := e.store.VectorSearch(ctx, embedding, topK, scope)
	if err != nil {
		return nil, err
	}

	items := make([]*model.Chunk, 0, len(matches))
	for _, chunk := range matches {
		if chunk.Similarity < e.config.MinSimilarity {
			continue
		}
		chunk.Score = chunk.Similarity
		items = append(items, chunk)
	}
	return items, nil
}

// hybridRetrieve blends vector similarity with keyword hits. The
// keyword component saturates so a pile of term hits cannot drown out
// semantic similarity, and chunks matching query terms get a small
// capped bonus per matched term.
func (e *Engine) hybridRetrieve(ctx context.Context, question string, topK int, scope *uuid.UUID) (*Result, error) {
	if e.embedder == nil {
		return e.degrade(ctx, question, topK, scope, model.ErrProviderUnavailable)
	}

	var (
		wg           sync.WaitGroup
		vectorItems  []*model.Chunk
		vectorErr    error
		keywordItems []*model.Chunk
		keywordErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorItems, vectorErr = e.vectorRetrieve(ctx, question, e.config.CandidateLimit, scope)
	}()
	go func() {
		defer wg.Done()
		keywordItems, keywordErr = e.keywordRetrieve(ctx, question, e.config.CandidateLimit, scope)
	}()
	wg.Wait()

	if vectorErr != nil {
		return e.degrade(ctx, question, topK, scope, vectorErr)
	}
	if keywordErr != nil {
		return nil, keywordErr
	}

	merged := make(map[uuid.UUID]*model.Chunk, len(vectorItems)+len(keywordItems))
	for _, chunk := range vectorItems {
		merged[chunk.ID] = chunk
	}
	for _, keywordChunk := range keywordItems {
		if existing, ok := merged[keywordChunk.ID]; ok {
			existing.MatchedTerms = keywordChunk.MatchedTerms
			existing.Score = e.blend(existing.Similarity, keywordChunk.Score, len(keywordChunk.MatchedTerms))
		} else {
			keywordChunk.Score = e.blend(0, keywordChunk.Score, len(keywordChunk.MatchedTerms))
			merged[keywordChunk.ID] = keywordChunk
		}
	}
	for _, chunk := range vectorItems {
		if len(chunk.MatchedTerms) == 0 {
			chunk.Score = e.blend(chunk.Similarity, 0, 0)
		}
	}

	items := make([]*model.Chunk, 0, len(merged))
	for _, chunk := range merged {
		items = append(items, chunk)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		// The merge map has no iteration order, so ties need a fully
		// deterministic key.
		if items[i].DocumentID != items[j].DocumentID {
			return bytes.Compare(items[i].DocumentID[:], items[j].DocumentID[:]) < 0
		}
		return items[i].Index < items[j].Index
	})

	if len(items) > topK {
		items = items[:topK]
	}
	return &Result{Items: items, Retriever: model.StrategyHybrid}, nil
}

// blend computes the hybrid score from a vector similarity in [0, 1],
// a raw keyword score, and the number of matched terms.
func (e *Engine) blend(similarity, keywordScore float64, matchedTerms int) float64 {
	keywordComponent := 0.0
	if keywordScore > 0 {
		keywordComponent = keywordScore / (keywordScore + 4)
	}
	bonus := e.config.BonusPerTerm * float64(matchedTerms)
	if bonus > e.config.BonusCap {
		bonus = e.config.BonusCap
	}
	return e.config.VectorWeight*similarity + e.config.KeywordWeight*keywordComponent + bonus
}
