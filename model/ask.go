package model

import (
	"strings"

	"github.com/google/uuid"
)

// Strategy selects the retrieval strategy for a question.
type Strategy string

const (
	StrategyKeyword Strategy = "keyword"
	StrategyVector  Strategy = "vector"
	StrategyHybrid  Strategy = "hybrid"
	StrategyAuto    Strategy = "auto"

	// StrategyDocument marks runs that read a document directly instead
	// of searching. It is reported on summary answers and cannot be
	// requested.
	StrategyDocument Strategy = "document"
)

// Valid reports whether the strategy is one of the known variants.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyKeyword, StrategyVector, StrategyHybrid, StrategyAuto:
		return true
	}
	return false
}

// Route is the orchestrator's decision among the answer handling paths.
type Route string

const (
	RouteSummary Route = "summary"
	RouteDocRAG  Route = "doc_rag"
	RouteGeneral Route = "general"
)

// AnswerMode selects how the final answer text is produced.
type AnswerMode string

const (
	ModeSourcesOnly   AnswerMode = "sources_only"
	ModeDeterministic AnswerMode = "deterministic"
	ModeGenerative    AnswerMode = "generative"
)

// Valid reports whether the answer mode is one of the known variants.
func (m AnswerMode) Valid() bool {
	switch m {
	case ModeSourcesOnly, ModeDeterministic, ModeGenerative:
		return true
	}
	return false
}

// AskRequest is one question against the knowledge base.
type AskRequest struct {
	Question       string     `json:"question"`
	Strategy       Strategy   `json:"retriever"`
	TopK           int        `json:"top_k"`
	Mode           AnswerMode `json:"answer_mode"`
	DocumentID     *uuid.UUID `json:"document_id,omitempty"`
	IdempotencyKey string     `json:"-"`
}

// Normalize fills defaults and reports whether the request is well formed.
func (r *AskRequest) Normalize() error {
	r.Question = strings.TrimSpace(r.Question)
	if r.Question == "" {
		return ErrInvalidInput
	}
	if r.Strategy == "" {
		r.Strategy = StrategyAuto
	}
	if !r.Strategy.Valid() {
		return ErrInvalidInput
	}
	if r.Mode == "" {
		r.Mode = ModeSourcesOnly
	}
	if !r.Mode.Valid() {
		return ErrInvalidInput
	}
	if r.TopK <= 0 {
		r.TopK = 5
	}
	return nil
}
