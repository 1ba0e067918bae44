package retrieval

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siherrmann/copilot/database"
	"github.com/siherrmann/copilot/model"
)

// mapEmbedder returns fixed vectors per text so similarity is under
// test control.
type mapEmbedder struct {
	vectors map[string][]float32
}

func (e *mapEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := e.vectors[text]; ok {
		return vector, nil
	}
	return nil, fmt.Errorf("no vector for %q", text)
}

func (e *mapEmbedder) Dimensions() int { return 2 }

func testRetrievalConfig() model.RetrievalConfig {
	return model.RetrievalConfig{
		TopK:           5,
		CandidateLimit: 50,
		SnippetLength:  300,
		MinSimilarity:  0.25,
		VectorWeight:   0.75,
		KeywordWeight:  0.25,
		BonusPerTerm:   0.05,
		BonusCap:       0.25,
	}
}

// seedDocument inserts an embedded document with the given chunks.
func seedDocument(t *testing.T, store database.Store, title string, chunks ...*model.Chunk) *model.Document {
	t.Helper()
	ctx := context.Background()

	doc := model.NewDocument(title, "content")
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	require.NoError(t, store.InsertDocument(ctx, doc))

	won, err := store.TransitionDocument(ctx, doc.ID, model.DocumentUploaded, model.DocumentProcessing, "")
	require.NoError(t, err)
	require.True(t, won)

	for i, chunk := range chunks {
		chunk.ID = uuid.New()
		chunk.DocumentID = doc.ID
		chunk.Index = i
		chunk.CreatedAt = time.Now()
	}
	require.NoError(t, store.InsertChunks(ctx, chunks))

	won, err = store.TransitionDocument(ctx, doc.ID, model.DocumentProcessing, model.DocumentEmbedded, "")
	require.NoError(t, err)
	require.True(t, won)

	return doc
}

func TestKeywordRetrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("Title hits weigh double text hits", func(t *testing.T) {
		store := database.NewMemoryStore()
		seedDocument(t, store, "Shipping Guide",
			&model.Chunk{Text: "The refund window is thirty days."},
		)
		seedDocument(t, store, "Refund Policy",
			&model.Chunk{Text: "Returns are accepted within the window."},
		)
		engine, err := NewEngine(store, nil, testRetrievalConfig(), nil)
		require.NoError(t, err)

		result, err := engine.Retrieve(ctx, "refund", model.StrategyKeyword, 5, nil)

		require.NoError(t, err)
		require.Len(t, result.Items, 2)
		assert.Equal(t, "Refund Policy", result.Items[0].DocumentTitle)
		assert.Equal(t, 4.0, result.Items[0].Score)
		assert.Equal(t, 2.0, result.Items[1].Score)
		assert.Equal(t, []string{"refund"}, result.Items[0].MatchedTerms)
	})

	t.Run("Whole words only", func(t *testing.T) {
		store := database.NewMemoryStore()
		seedDocument(t, store, "Notes",
			&model.Chunk{Text: "The refundable deposit is separate."},
		)
		engine, err := NewEngine(store, nil, testRetrievalConfig(), nil)
		require.NoError(t, err)

		result, err := engine.Retrieve(ctx, "refund", model.StrategyKeyword, 5, nil)

		require.NoError(t, err)
		assert.Empty(t, result.Items, "refundable must not match refund")
	})

	t.Run("Stopword only question yields nothing", func(t *testing.T) {
		store := database.NewMemoryStore()
		seedDocument(t, store, "Notes", &model.Chunk{Text: "Anything at all."})
		engine, err := NewEngine(store, nil, testRetrievalConfig(), nil)
		require.NoError(t, err)

		result, err := engine.Retrieve(ctx, "what is the", model.StrategyKeyword, 5, nil)

		require.NoError(t, err)
		assert.Empty(t, result.Items)
	})

	t.Run("Only embedded documents are searched", func(t *testing.T) {
		store := database.NewMemoryStore()
		doc := model.NewDocument("Draft", "content")
		require.NoError(t, store.InsertDocument(ctx, doc))
		engine, err := NewEngine(store, nil, testRetrievalConfig(), nil)
		require.NoError(t, err)

		result, err := engine.Retrieve(ctx, "draft", model.StrategyKeyword, 5, nil)

		require.NoError(t, err)
		assert.Empty(t, result.Items)
	})

	t.Run("Scope restricts to one document", func(t *testing.T) {
		store := database.NewMemoryStore()
		seedDocument(t, store, "First", &model.Chunk{Text: "shared keyword here"})
		second := seedDocument(t, store, "Second", &model.Chunk{Text: "shared keyword there"})
		engine, err := NewEngine(store, nil, testRetrievalConfig(), nil)
		require.NoError(t, err)

		result, err := engine.Retrieve(ctx, "keyword", model.StrategyKeyword, 5, &second.ID)

		require.NoError(t, err)
		require.Len(t, result.Items, 1)
		assert.Equal(t, second.ID, result.Items[0].DocumentID)
	})

	t.Run("TopK bounds results", func(t *testing.T) {
		store := database.NewMemoryStore()
		seedDocument(t, store, "Many",
			&model.Chunk{Text: "topic one"},
			&model.Chunk{Text: "topic two"},
			&model.Chunk{Text: "topic three"},
		)
		engine, err := NewEngine(store, nil, testRetrievalConfig(), nil)
		require.NoError(t, err)

		result, err := engine.Retrieve(ctx, "topic", model.StrategyKeyword, 2, nil)

		require.NoError(t, err)
		assert.Len(t, result.Items, 2)
	})
}

func TestVectorRetrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("Ranked by similarity with threshold", func(t *testing.T) {
		store := database.NewMemoryStore()
		seedDocument(t, store, "Directions",
			&model.Chunk{Text: "close match", Embedding: []float32{1, 0}},
			&model.Chunk{Text: "looser match", Embedding: []float32{0.5, 0.5}},
			&model.Chunk{Text: "opposite", Embedding: []float32{-1, 0}},
		)
		embedder := &mapEmbedder{vectors: map[string][]float32{"question": {1, 0}}}
		engine, err := NewEngine(store, embedder, testRetrievalConfig(), nil)
		require.NoError(t, err)

		result, err := engine.Retrieve(ctx, "question", model.StrategyVector, 5, nil)

		require.NoError(t, err)
		assert.Equal(t, model.StrategyVector, result.Retriever)
		assert.False(t, result.Degraded)
		require.Len(t, result.Items, 2, "opposite direction falls below the threshold")
		assert.Equal(t, "close match", result.Items[0].Text)
		assert.InDelta(t, 1.0, result.Items[0].Score, 1e-6)
	})

	t.Run("Degrades to keyword without embedder", func(t *testing.T) {
		store := database.NewMemoryStore()
		seedDocument(t, store, "Fallback", &model.Chunk{Text: "fallback content"})
		engine, err := NewEngine(store, nil, testRetrievalConfig(), nil)
		require.NoError(t, err)

		result, err := engine.Retrieve(ctx, "fallback", model.StrategyVector, 5, nil)

		require.NoError(t, err)
		assert.True(t, result.Degraded)
		assert.Equal(t, model.StrategyKeyword, result.Retriever)
		require.Len(t, result.Items, 1)
	})

	t.Run("Degrades to keyword on embedding failure", func(t *testing.T) {
		store := database.NewMemoryStore()
		seedDocument(t, store, "Fallback", &model.Chunk{Text: "fallback content"})
		embedder := &mapEmbedder{vectors: map[string][]float32{}}
		engine, err := NewEngine(store, embedder, testRetrievalConfig(), nil)
		require.NoError(t, err)

		result, err := engine.Retrieve(ctx, "fallback", model.StrategyVector, 5, nil)

		require.NoError(t, err)
		assert.True(t, result.Degraded)
		assert.Equal(t, model.StrategyKeyword, result.Retriever)
	})
}

func TestHybridRetrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("Blends similarity with keyword hits", func(t *testing.T) {
		store := database.NewMemoryStore()
		seedDocument(t, store, "Guide",
			&model.Chunk{Text: "refund details inside", Embedding: []float32{1, 0}},
			&model.Chunk{Text: "unrelated topic", Embedding: []float32{0.9, 0.1}},
		)
		embedder := &mapEmbedder{vectors: map[string][]float32{"refund": {1, 0}}}
		engine, err := NewEngine(store, embedder, testRetrievalConfig(), nil)
		require.NoError(t, err)

		result, err := engine.Retrieve(ctx, "refund", model.StrategyHybrid, 5, nil)

		require.NoError(t, err)
		assert.Equal(t, model.StrategyHybrid, result.Retriever)
		require.NotEmpty(t, result.Items)
		assert.Equal(t, "refund details inside", result.Items[0].Text,
			"keyword hit plus similarity outranks similarity alone")
		assert.Greater(t, result.Items[0].Score, result.Items[1].Score)
	})

	t.Run("Keyword only match still surfaces", func(t *testing.T) {
		store := database.NewMemoryStore()
		seedDocument(t, store, "Guide",
			&model.Chunk{Text: "refund policy mention", Embedding: []float32{-1, 0}},
		)
		embedder := &mapEmbedder{vectors: map[string][]float32{"refund": {1, 0}}}
		engine, err := NewEngine(store, embedder, testRetrievalConfig(), nil)
		require.NoError(t, err)

		result, err := engine.Retrieve(ctx, "refund", model.StrategyHybrid, 5, nil)

		require.NoError(t, err)
		require.Len(t, result.Items, 1, "below-threshold similarity is rescued by the keyword hit")
	})

	t.Run("Degrades without embedder", func(t *testing.T) {
		store := database.NewMemoryStore()
		seedDocument(t, store, "Guide", &model.Chunk{Text: "refund policy"})
		engine, err := NewEngine(store, nil, testRetrievalConfig(), nil)
		require.NoError(t, err)

		result, err := engine.Retrieve(ctx, "refund", model.StrategyHybrid, 5, nil)

		require.NoError(t, err)
		assert.True(t, result.Degraded)
		assert.Equal(t, model.StrategyKeyword, result.Retriever)
	})

	t.Run("Tied scores order deterministically", func(t *testing.T) {
		store := database.NewMemoryStore()
		docIDs := make([]uuid.UUID, 0, 4)
		for i := 0; i < 4; i++ {
			doc := seedDocument(t, store, "Mirror",
				&model.Chunk{Text: "refund policy", Embedding: []float32{1, 0}})
			docIDs = append(docIDs, doc.ID)
		}
		embedder := &mapEmbedder{vectors: map[string][]float32{"refund": {1, 0}}}
		engine, err := NewEngine(store, embedder, testRetrievalConfig(), nil)
		require.NoError(t, err)

		// Identical text and embeddings make all four scores equal, so
		// the order must come from the document id, not map iteration.
		sort.Slice(docIDs, func(i, j int) bool {
			return bytes.Compare(docIDs[i][:], docIDs[j][:]) < 0
		})

		for run := 0; run < 10; run++ {
			result, err := engine.Retrieve(ctx, "refund", model.StrategyHybrid, 4, nil)
			require.NoError(t, err)
			require.Len(t, result.Items, 4)
			for i, item := range result.Items {
				assert.Equal(t, docIDs[i], item.DocumentID, "tied results keep one order across runs")
			}
		}
	})
}

func TestAutoStrategy(t *testing.T) {
	ctx := context.Background()

	t.Run("Auto picks hybrid with embedder", func(t *testing.T) {
		store := database.NewMemoryStore()
		seedDocument(t, store, "Guide", &model.Chunk{Text: "refund policy", Embedding: []float32{1, 0}})
		embedder := &mapEmbedder{vectors: map[string][]float32{"refund": {1, 0}}}
		engine, err := NewEngine(store, embedder, testRetrievalConfig(), nil)
		require.NoError(t, err)

		result, err := engine.Retrieve(ctx, "refund", model.StrategyAuto, 5, nil)

		require.NoError(t, err)
		assert.Equal(t, model.StrategyHybrid, result.Retriever)
	})

	t.Run("Auto picks keyword without embedder", func(t *testing.T) {
		store := database.NewMemoryStore()
		seedDocument(t, store, "Guide", &model.Chunk{Text: "refund policy"})
		engine, err := NewEngine(store, nil, testRetrievalConfig(), nil)
		require.NoError(t, err)

		result, err := engine.Retrieve(ctx, "refund", model.StrategyAuto, 5, nil)

		require.NoError(t, err)
		assert.Equal(t, model.StrategyKeyword, result.Retriever)
		assert.False(t, result.Degraded, "keyword was chosen, not fallen back to")
	})
}
