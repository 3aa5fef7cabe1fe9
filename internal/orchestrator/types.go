package orchestrator

import (
	"time"

	"github.com/lexforge/lexforge/internal/agent"
	"github.com/lexforge/lexforge/internal/prompt"
	"github.com/lexforge/lexforge/internal/review"
)

// Stage is the orchestrator's top-level state for one run.
type Stage string

const (
	StageCreated    Stage = "created"
	StageGenerating Stage = "generating"
	StageReviewing  Stage = "reviewing"
	StageDeciding   Stage = "deciding"
	StageCorrecting Stage = "correcting"
	StageFinalized  Stage = "finalized"
	StageFailed     Stage = "failed"
)

// Terminal reports whether the stage is an end state.
func (s Stage) Terminal() bool {
	return s == StageFinalized || s == StageFailed
}

// ContextBag carries the caller-owned reference material for a run.
// The orchestrator reads it and never mutates it.
type ContextBag struct {
	Signature  string   `json:"signature,omitempty"`
	History    []string `json:"history,omitempty"`
	References []string `json:"references,omitempty"`
}

// GenerationRequest is the immutable input to one run.
type GenerationRequest struct {
	UserPrompt   string              `json:"user_prompt"`
	DocumentType prompt.DocumentType `json:"document_type"`
	Context      ContextBag          `json:"context"`
	EffortLevel  int                 `json:"effort_level"`
}

// RunState is the live state of one run. It is mutated only by the run's
// own goroutine; external readers get copies via Snapshot.
type RunState struct {
	ID            string           `json:"id"`
	Stage         Stage            `json:"stage"`
	GenerationRun *agent.Run       `json:"generation_run,omitempty"`
	ReviewRuns    []*agent.Run     `json:"review_runs,omitempty"`
	Decision      *review.Decision `json:"decision,omitempty"`
	CorrectionRun *agent.Run       `json:"correction_run,omitempty"`
	FinalContent  *string          `json:"final_content,omitempty"`
	FailReason    string           `json:"fail_reason,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// allRuns returns every agent run of the state in execution order.
func (st *RunState) allRuns() []*agent.Run {
	var runs []*agent.Run
	if st.GenerationRun != nil {
		runs = append(runs, st.GenerationRun)
	}
	runs = append(runs, st.ReviewRuns...)
	if st.CorrectionRun != nil {
		runs = append(runs, st.CorrectionRun)
	}
	return runs
}
