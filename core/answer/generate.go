package answer

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

// GenerationProvider produces an answer from a question and the
// retrieved context blocks. Implementations must only use the given
// context; the orchestrator still sanitizes the output afterwards.
type GenerationProvider interface {
	Generate(ctx context.Context, question string, contextBlocks []string) (string, error)
}

const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultOpenAIChatModel = "gpt-4o-mini"

	groundingPrompt = "You answer questions strictly from the numbered context passages below. " +
		"Cite passages as [1], [2] and so on. If the passages do not contain the answer, say so. " +
		"Never use knowledge outside the passages."
)

// OpenAIGenerator generates answers through an OpenAI-compatible chat
// completions endpoint.
type OpenAIGenerator struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

var _ GenerationProvider = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator reads OPENAI_API_KEY, and optionally
// OPENAI_BASE_URL and OPENAI_CHAT_MODEL, from the environment.
func NewOpenAIGenerator() (*OpenAIGenerator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, helper.NewError("openai generator configuration", fmt.Errorf("OPENAI_API_KEY is not set: %w", model.ErrProviderUnavailable))
	}

	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	chatModel := os.Getenv("OPENAI_CHAT_MODEL")
	if chatModel == "" {
		chatModel = defaultOpenAIChatModel
	}

	return &OpenAIGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   chatModel,
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (g *OpenAIGenerator) Generate(ctx context.Context, question string, contextBlocks []string) (string, error) {
	var prompt strings.Builder
	for i, block := range contextBlocks {
		fmt.Fprintf(&prompt, "[%d] %s\n\n", i+1, block)
	}
	fmt.Fprintf(&prompt, "Question: %s", question)

	body, err := json.Marshal(chatCompletionRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: groundingPrompt},
			{Role: "user", Content: prompt.String()},
		},
	})
	if err != nil {
		return "", helper.NewError("marshal chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", helper.NewError("build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", helper.NewError("call chat endpoint", fmt.Errorf("%v: %w", err, model.ErrProviderUnavailable))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", helper.NewError("read chat response", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", helper.NewError("call chat endpoint", model.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return "", helper.NewError("call chat endpoint", fmt.Errorf("status %d: %s: %w", resp.StatusCode, string(payload), model.ErrProviderUnavailable))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", helper.NewError("decode chat response", err)
	}
	if parsed.Error != nil {
		return "", helper.NewError("call chat endpoint", fmt.Errorf("%s: %w", parsed.Error.Message, model.ErrProviderUnavailable))
	}
	if len(parsed.Choices) == 0 {
		return "", helper.NewError("decode chat response", fmt.Errorf("no completion returned"))
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
