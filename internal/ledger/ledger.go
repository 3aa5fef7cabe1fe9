// Package ledger persists completed run transcripts. The orchestrator treats
// it as a write-only sink; reads exist for audit tooling only.
package ledger

import (
	"context"
	"time"

	"github.com/lexforge/lexforge/internal/agent"
	"github.com/lexforge/lexforge/internal/provider"
	"github.com/lexforge/lexforge/internal/review"
)

// Transcript is the full record of one run, written exactly once when the
// run reaches a terminal stage. Failed runs are persisted too, with a nil
// FinalContent.
type Transcript struct {
	RunID        string           `json:"run_id"`
	UserPrompt   string           `json:"user_prompt"`
	DocumentType string           `json:"document_type"`
	EffortLevel  int              `json:"effort_level"`
	Stage        string           `json:"stage"`
	FinalContent *string          `json:"final_content"`
	FailReason   string           `json:"fail_reason,omitempty"`
	Decision     *review.Decision `json:"decision,omitempty"`
	AgentRuns    []*agent.Run     `json:"agent_runs"`
	Usage        provider.Usage   `json:"usage"`
	Cost         *float64         `json:"cost,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
}

// Recorder is the write-only sink consumed by the orchestrator.
type Recorder interface {
	Persist(ctx context.Context, t *Transcript) error
}
