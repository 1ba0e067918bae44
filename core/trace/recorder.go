// Package trace records answering runs and their steps for auditing.
package trace

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/copilot/database"
	"github.com/siherrmann/copilot/helper"
	"github.com/siherrmann/copilot/model"
)

// Recorder persists runs and their steps. Steps are appended as they
// happen; the run row itself is written exactly once when the run
// finishes, so a reader never observes a run without its steps.
type Recorder struct {
	store database.Store
	log   *slog.Logger
}

// NewRecorder creates a recorder on the given store.
func NewRecorder(store database.Store, logger *slog.Logger) (*Recorder, error) {
	if store == nil {
		return nil, helper.NewError("recorder validation", fmt.Errorf("store is nil"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, log: logger}, nil
}

// ActiveRun is a run in progress. It is finished exactly once, through
// Finish or Fail; later calls are rejected.
type ActiveRun struct {
	recorder *Recorder
	run      *model.Run
	mu       sync.Mutex
	finished bool
}

// StartRun opens a run for the given question. The run ID is assigned
// immediately so steps can reference it before the run is persisted.
func (r *Recorder) StartRun(question string) *ActiveRun {
	return &ActiveRun{
		recorder: r,
		run: &model.Run{
			ID:        uuid.New(),
			Question:  question,
			CreatedAt: time.Now(),
		},
	}
}

// ID returns the run identifier.
func (a *ActiveRun) ID() uuid.UUID {
	return a.run.ID
}

// RecordStep appends one step to the run. The store assigns the
// sequence number; steps are never updated afterwards.
func (a *ActiveRun) RecordStep(ctx context.Context, name string, status model.StepStatus, input, output model.Metadata) error {
	a.mu.Lock()
	finished := a.finished
	a.mu.Unlock()
	if finished {
		return helper.NewError("record step", fmt.Errorf("run %v already finished", a.run.ID))
	}

	if input == nil {
		input = model.Metadata{}
	}
	if output == nil {
		output = model.Metadata{}
	}
	step := &model.Step{
		ID:        uuid.New(),
		RunID:     a.run.ID,
		Name:      name,
		Status:    status,
		Input:     input,
		Output:    output,
		CreatedAt: time.Now(),
	}
	return a.recorder.store.AppendStep(ctx, step)
}

// Finish closes the run as successful and persists it.
func (a *ActiveRun) Finish(ctx context.Context, route model.Route, mode model.AnswerMode, retriever model.Strategy, answer string, sources []model.EvidenceItem) error {
	return a.close(ctx, func(run *model.Run) {
		run.Status = model.RunSuccess
		run.Route = route
		run.Mode = mode
		run.Retriever = retriever
		run.Answer = answer
		run.Sources = sources
	})
}

// Fail closes the run as failed and persists it with the cause.
func (a *ActiveRun) Fail(ctx context.Context, route model.Route, mode model.AnswerMode, retriever model.Strategy, cause error) error {
	return a.close(ctx, func(run *model.Run) {
		run.Status = model.RunError
		run.Route = route
		run.Mode = mode
		run.Retriever = retriever
		if cause != nil {
			run.Error = cause.Error()
		}
	})
}

func (a *ActiveRun) close(ctx context.Context, fill func(*model.Run)) error {
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return helper.NewError("finish run", fmt.Errorf("run %v already finished", a.run.ID))
	}
	a.finished = true
	a.mu.Unlock()

	fill(a.run)
	if a.run.Sources == nil {
		a.run.Sources = []model.EvidenceItem{}
	}
	if err := a.recorder.store.InsertRun(ctx, a.run); err != nil {
		return err
	}
	a.recorder.log.Debug("Recorded run", "run", a.run.ID, "status", a.run.Status, "route", a.run.Route)
	return nil
}

// GetRun returns a finished run.
func (r *Recorder) GetRun(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	return r.store.GetRun(ctx, id)
}

// ListRuns returns finished runs, newest first.
func (r *Recorder) ListRuns(ctx context.Context, limit int) ([]*model.Run, error) {
	return r.store.ListRuns(ctx, limit)
}

// Steps returns all steps of a run in append order.
func (r *Recorder) Steps(ctx context.Context, runID uuid.UUID) ([]*model.Step, error) {
	return r.store.StepsByRun(ctx, runID)
}

// ListSteps returns a restartable sequence over the steps of a run in
// append order. Every iteration queries the store again, so a restart
// observes steps appended in the meantime. Errors are yielded as the
// second value and end the iteration.
func (r *Recorder) ListSteps(ctx context.Context, runID uuid.UUID) iter.Seq2[*model.Step, error] {
	return func(yield func(*model.Step, error) bool) {
		steps, err := r.store.StepsByRun(ctx, runID)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, step := range steps {
			if !yield(step, nil) {
				return
			}
		}
	}
}
