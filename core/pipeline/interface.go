package pipeline

import "context"

// ChunkSpan is one passage produced by a chunker, with its byte offsets
// into the normalized source text.
type ChunkSpan struct {
	Text     string
	StartPos int
	EndPos   int
}

// ChunkFunc splits normalized text into ordered spans. Spans cover the
// text in order; consecutive spans may overlap.
type ChunkFunc func(text string) ([]ChunkSpan, error)

// Embedder generates embeddings for text. Implementations must be safe
// for concurrent use; the ingestor embeds chunks in parallel.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the fixed length of produced vectors.
	Dimensions() int
}
