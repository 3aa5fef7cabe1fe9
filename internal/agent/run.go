package agent

import (
	"time"

	"github.com/lexforge/lexforge/internal/provider"
)

// Role identifies the capability an agent performs in a run.
type Role string

const (
	RoleGenerator       Role = "generator"
	RoleLegalReviewer   Role = "legal_reviewer"
	RoleTextualReviewer Role = "textual_reviewer"
)

// ReviewerRoles lists reviewer roles in dispatch (and tie-break) order.
var ReviewerRoles = []Role{RoleLegalReviewer, RoleTextualReviewer}

// Status tracks one invocation's lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusThinking  Status = "thinking"
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusTimeout
}

// ErrorKind classifies why an invocation failed.
type ErrorKind string

const (
	ErrKindNone       ErrorKind = ""
	ErrKindInvocation ErrorKind = "invocation"
	ErrKindTimeout    ErrorKind = "timeout"
	ErrKindParse      ErrorKind = "parse"
	ErrKindCancelled  ErrorKind = "cancelled"
)

// Run is the record of one agent invocation. It is owned by the caller for
// the duration of the run and never shared across invocations.
type Run struct {
	Role           Role           `json:"role"`
	Status         Status         `json:"status"`
	Text           string         `json:"text"`
	ThinkStartedAt time.Time      `json:"think_started_at"`
	FirstTokenAt   *time.Time     `json:"first_token_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Usage          provider.Usage `json:"usage"`
	Cost           *float64       `json:"cost,omitempty"`
	Err            string         `json:"error,omitempty"`
	ErrKind        ErrorKind      `json:"error_kind,omitempty"`
}

// ThinkTime returns the latency from invocation start to first fragment,
// or zero when no fragment ever arrived.
func (r *Run) ThinkTime() time.Duration {
	if r.FirstTokenAt == nil {
		return 0
	}
	return r.FirstTokenAt.Sub(r.ThinkStartedAt)
}

// Elapsed returns total wall time for the invocation.
func (r *Run) Elapsed() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.ThinkStartedAt)
}

// MarkFailed transitions the run to a failed state with the given kind.
// Used when output post-processing (e.g. critique parsing) rejects an
// otherwise successful invocation.
func (r *Run) MarkFailed(kind ErrorKind, msg string) {
	r.Status = StatusFailed
	r.ErrKind = kind
	r.Err = msg
}
