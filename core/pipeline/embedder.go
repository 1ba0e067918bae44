package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/siherrmann/copilot/helper"
)

const (
	localEmbedderModel      = "sentence-transformers/all-MiniLM-L6-v2"
	localEmbedderDimensions = 384
)

// LocalEmbedder embeds text with a local sentence transformer model.
// The model is downloaded on first use and produces 384-dimensional
// embeddings.
type LocalEmbedder struct {
	session *hugot.Session
	embed   func(text string) ([]float32, error)
	mu      sync.Mutex
}

var _ Embedder = (*LocalEmbedder)(nil)

// NewLocalEmbedder prepares the model and initializes a hugot session
// with the Go backend.
func NewLocalEmbedder() (*LocalEmbedder, error) {
	modelPath, err := helper.PrepareModel(localEmbedderModel)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, helper.NewError("create hugot session", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "embedder-pipeline",
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, helper.NewError("create sentence pipeline", fmt.Errorf("%w (cleanup error: %v)", err, destroyErr))
		}
		return nil, helper.NewError("create sentence pipeline", err)
	}

	embed := func(text string) ([]float32, error) {
		result, err := sentencePipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, helper.NewError("generate embedding", err)
		}
		if len(result.Embeddings) == 0 {
			return nil, helper.NewError("generate embedding", fmt.Errorf("no embedding generated"))
		}
		return result.Embeddings[0], nil
	}

	return &LocalEmbedder{
		session: session,
		embed:   embed,
	}, nil
}

// Embed generates the embedding for the given text. The underlying
// pipeline is not safe for concurrent runs, so calls are serialized.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.embed(text)
}

func (e *LocalEmbedder) Dimensions() int {
	return localEmbedderDimensions
}

// Close destroys the hugot session.
func (e *LocalEmbedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}
