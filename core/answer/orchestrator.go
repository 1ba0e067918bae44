// Package answer routes questions to an answering path and produces
// the final response from retrieved evidence.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/siherrmann/copilot/core/retrieval"
	"github.com/siherrmann/copilot/core/trace"
	"github.com/siherrmann/copilot/database"
	"github.com/siherrmann/copilot/helper"
	"github.com/siherrmann/copilot/model"
)

// Orchestrator decides between the summary, doc_rag, and general
// answering paths and records every run with its steps. The generation
// provider is optional; without one the generative mode degrades to
// deterministic synthesis.
type Orchestrator struct {
	store     database.Store
	engine    *retrieval.Engine
	recorder  *trace.Recorder
	generator GenerationProvider
	policy    model.Policy
	retrieval model.RetrievalConfig
	trigger   *regexp.Regexp
	log       *slog.Logger
}

// NewOrchestrator creates an orchestrator. The summary trigger pattern
// from the policy is compiled once here.
func NewOrchestrator(store database.Store, engine *retrieval.Engine, recorder *trace.Recorder, generator GenerationProvider, policy model.Policy, retrievalConfig model.RetrievalConfig, logger *slog.Logger) (*Orchestrator, error) {
	if store == nil {
		return nil, helper.NewError("orchestrator validation", fmt.Errorf("store is nil"))
	}
	if engine == nil {
		return nil, helper.NewError("orchestrator validation", fmt.Errorf("retrieval engine is nil"))
	}
	if recorder == nil {
		return nil, helper.NewError("orchestrator validation", fmt.Errorf("recorder is nil"))
	}
	if logger == nil {
		logger = slog.Default()
	}

	trigger, err := regexp.Compile(policy.SummaryTrigger)
	if err != nil {
		return nil, helper.NewError("compile summary trigger", err)
	}

	return &Orchestrator{
		store:     store,
		engine:    engine,
		recorder:  recorder,
		generator: generator,
		policy:    policy,
		retrieval: retrievalConfig,
		trigger:   trigger,
		log:       logger,
	}, nil
}

// Answer runs one question end to end. The request is normalized
// first; the returned response always carries the run ID.
func (o *Orchestrator) Answer(ctx context.Context, req *model.AskRequest) (*model.AskResponse, error) {
	if err := req.Normalize(); err != nil {
		return nil, helper.NewError("validate ask request", err)
	}

	run := o.recorder.StartRun(req.Question)

	if req.DocumentID != nil && o.trigger.MatchString(req.Question) {
		return o.summarize(ctx, run, req)
	}

	result, err := o.engine.Retrieve(ctx, req.Question, req.Strategy, req.TopK, req.DocumentID)
	if err != nil {
		o.failRun(ctx, run, model.RouteGeneral, req.Mode, req.Strategy, err)
		return nil, err
	}

	sources := o.toEvidence(result)
	o.recordStep(ctx, run, model.StepRetrieve, model.StepOK,
		model.Metadata{"question": req.Question, "strategy": string(req.Strategy), "top_k": req.TopK},
		model.Metadata{"count": len(sources), "retriever": string(result.Retriever), "degraded": result.Degraded},
	)

	if len(sources) == 0 || sources[0].Score < o.policy.MinRelevance {
		return o.finish(ctx, run, &model.AskResponse{
			Answer:    noEvidenceAnswer,
			Sources:   []model.EvidenceItem{},
			Route:     model.RouteGeneral,
			Mode:      req.Mode,
			Retriever: result.Retriever,
			Degraded:  result.Degraded,
		})
	}

	response := &model.AskResponse{
		Sources:   sources,
		Route:     model.RouteDocRAG,
		Mode:      req.Mode,
		Retriever: result.Retriever,
		Degraded:  result.Degraded,
	}

	switch req.Mode {
	case model.ModeSourcesOnly:
	case model.ModeDeterministic:
		response.Answer = synthesizeDeterministic(req.Question, sources)
	case model.ModeGenerative:
		response.Answer = o.generate(ctx, run, req.Question, sources, response)
	}

	return o.finish(ctx, run, response)
}

// summarize answers from the leading chunks of one document without
// searching. It only runs when the question matches the summary
// trigger and a document scope is given.
func (o *Orchestrator) summarize(ctx context.Context, run *trace.ActiveRun, req *model.AskRequest) (*model.AskResponse, error) {
	document, err := o.store.GetDocument(ctx, *req.DocumentID)
	if err != nil {
		o.failRun(ctx, run, model.RouteSummary, req.Mode, model.StrategyDocument, err)
		return nil, err
	}

	chunks, err := o.store.ChunksByDocument(ctx, document.ID)
	if err != nil {
		o.failRun(ctx, run, model.RouteSummary, req.Mode, model.StrategyDocument, err)
		return nil, err
	}
	if len(chunks) > o.policy.MaxEvidence {
		chunks = chunks[:o.policy.MaxEvidence]
	}

	sources := make([]model.EvidenceItem, 0, len(chunks))
	for _, chunk := range chunks {
		sources = append(sources, model.EvidenceItem{
			DocumentID:    chunk.DocumentID,
			DocumentTitle: document.Title,
			ChunkID:       chunk.ID,
			ChunkIndex:    chunk.Index,
			Snippet:       chunk.Snippet(o.retrieval.SnippetLength),
			Retriever:     model.StrategyDocument,
		})
	}

	o.recordStep(ctx, run, model.StepRetrieve, model.StepOK,
		model.Metadata{"question": req.Question, "document_id": document.ID.String()},
		model.Metadata{"count": len(sources), "retriever": string(model.StrategyDocument)},
	)

	return o.finish(ctx, run, &model.AskResponse{
		Answer:    synthesizeSummary(document.Title, sources),
		Sources:   sources,
		Route:     model.RouteSummary,
		Mode:      req.Mode,
		Retriever: model.StrategyDocument,
	})
}

// generate calls the generation provider with bounded context blocks.
// Any provider failure falls back to deterministic synthesis and marks
// the response as degraded; the answer path never fails on generation.
func (o *Orchestrator) generate(ctx context.Context, run *trace.ActiveRun, question string, sources []model.EvidenceItem, response *model.AskResponse) string {
	if o.generator == nil {
		response.Degraded = true
		return synthesizeDeterministic(question, sources)
	}

	blocks := make([]string, 0, len(sources))
	for _, source := range sources {
		if len(blocks) >= o.policy.MaxEvidence {
			break
		}
		blocks = append(blocks, fmt.Sprintf("%s: %s", source.DocumentTitle, model.SnippetOf(source.Snippet, o.policy.GenerationSnippet)))
	}

	generated, err := o.generator.Generate(ctx, question, blocks)
	if err != nil {
		o.log.Warn("Generation failed, falling back to deterministic synthesis", "error", err)
		o.recordStep(ctx, run, model.StepGenerate, model.StepFailed,
			model.Metadata{"blocks": len(blocks)},
			model.Metadata{"error": err.Error()},
		)
		response.Degraded = true
		return synthesizeDeterministic(question, sources)
	}

	answer := sanitizeAnswer(generated, len(sources))
	o.recordStep(ctx, run, model.StepGenerate, model.StepOK,
		model.Metadata{"blocks": len(blocks)},
		model.Metadata{"answer_length": len(answer)},
	)
	return answer
}

func (o *Orchestrator) toEvidence(result *retrieval.Result) []model.EvidenceItem {
	sources := make([]model.EvidenceItem, 0, len(result.Items))
	for _, chunk := range result.Items {
		sources = append(sources, model.EvidenceItem{
			DocumentID:    chunk.DocumentID,
			DocumentTitle: chunk.DocumentTitle,
			ChunkID:       chunk.ID,
			ChunkIndex:    chunk.Index,
			Snippet:       chunk.Snippet(o.retrieval.SnippetLength),
			Score:         chunk.Score,
			MatchedTerms:  chunk.MatchedTerms,
			Retriever:     result.Retriever,
		})
	}
	return sources
}

// finish persists the run and stamps its ID onto the response.
func (o *Orchestrator) finish(ctx context.Context, run *trace.ActiveRun, response *model.AskResponse) (*model.AskResponse, error) {
	if err := run.Finish(ctx, response.Route, response.Mode, response.Retriever, response.Answer, response.Sources); err != nil {
		return nil, err
	}
	response.RunID = run.ID()
	return response, nil
}

func (o *Orchestrator) recordStep(ctx context.Context, run *trace.ActiveRun, name string, status model.StepStatus, input, output model.Metadata) {
	if err := run.RecordStep(ctx, name, status, input, output); err != nil {
		o.log.Error("Failed to record step", "run", run.ID(), "step", name, "error", err)
	}
}

func (o *Orchestrator) failRun(ctx context.Context, run *trace.ActiveRun, route model.Route, mode model.AnswerMode, retriever model.Strategy, cause error) {
	o.recordStep(ctx, run, model.StepRetrieve, model.StepFailed, model.Metadata{}, model.Metadata{"error": cause.Error()})
	if err := run.Fail(ctx, route, mode, retriever, cause); err != nil {
		o.log.Error("Failed to record failed run", "run", run.ID(), "error", err)
	}
}
