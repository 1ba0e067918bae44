package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/siherrmann/copilot/helper"
	"github.com/siherrmann/copilot/model"
)

const (
	defaultOpenAIBaseURL        = "https://api.openai.com/v1"
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
	// text-embedding-3-small produces 1536-dimensional vectors.
	defaultOpenAIDimensions = 1536
)

// OpenAIEmbedder embeds text through an OpenAI-compatible embeddings
// endpoint. Any server speaking the /embeddings protocol works, the
// base URL just has to point at it.
type OpenAIEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder reads OPENAI_API_KEY, and optionally
// OPENAI_BASE_URL and OPENAI_EMBEDDING_MODEL, from the environment.
func NewOpenAIEmbedder() (*OpenAIEmbedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, helper.NewError("openai embedder configuration", fmt.Errorf("OPENAI_API_KEY is not set: %w", model.ErrProviderUnavailable))
	}

	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	embeddingModel := os.Getenv("OPENAI_EMBEDDING_MODEL")
	if embeddingModel == "" {
		embeddingModel = defaultOpenAIEmbeddingModel
	}

	return &OpenAIEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      embeddingModel,
		dimensions: defaultOpenAIDimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(openAIEmbeddingRequest{Model: e.model, Input: []string{text}})
	if err != nil {
		return nil, helper.NewError("marshal embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, helper.NewError("build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, helper.NewError("call embedding endpoint", fmt.Errorf("%v: %w", err, model.ErrProviderUnavailable))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, helper.NewError("read embedding response", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, helper.NewError("call embedding endpoint", model.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, helper.NewError("call embedding endpoint", fmt.Errorf("status %d: %s: %w", resp.StatusCode, string(payload), model.ErrProviderUnavailable))
	}

	var parsed openAIEmbeddingResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, helper.NewError("decode embedding response", err)
	}
	if parsed.Error != nil {
		return nil, helper.NewError("call embedding endpoint", fmt.Errorf("%s: %w", parsed.Error.Message, model.ErrProviderUnavailable))
	}
	if len(parsed.Data) == 0 {
		return nil, helper.NewError("decode embedding response", fmt.Errorf("no embedding returned"))
	}
	return parsed.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}
