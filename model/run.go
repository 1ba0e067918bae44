package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the terminal outcome of an orchestrated ask invocation.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// StepStatus records the outcome of a named phase within a run.
type StepStatus string

const (
	StepOK     StepStatus = "ok"
	StepFailed StepStatus = "failed"
)

// Step names used by the orchestrator.
const (
	StepRetrieve = "retrieve"
	StepGenerate = "generate"
)

// Run is the persisted record of one orchestrated ask invocation.
// A run is written exactly once, after its steps, so readers never
// observe a run without steps.
type Run struct {
	ID        uuid.UUID      `json:"id"`
	Question  string         `json:"question"`
	Route     Route          `json:"route"`
	Mode      AnswerMode     `json:"answer_mode"`
	Retriever Strategy       `json:"retriever_used"`
	Status    RunStatus      `json:"status"`
	Answer    string         `json:"answer"`
	Sources   []EvidenceItem `json:"sources"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Step belongs to exactly one run and is append-only; steps are ordered
// by Seq, assigned by the store at insert time.
type Step struct {
	ID        uuid.UUID  `json:"id"`
	RunID     uuid.UUID  `json:"run_id"`
	Seq       int64      `json:"seq"`
	Name      string     `json:"name"`
	Status    StepStatus `json:"status"`
	Input     Metadata   `json:"input"`
	Output    Metadata   `json:"output"`
	CreatedAt time.Time  `json:"created_at"`
}
