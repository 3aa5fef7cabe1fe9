// Package orchestrator drives the multi-agent document pipeline: one
// generator pass, a reviewer fan-out, a consensus decision, and at most one
// corrective regeneration, with live events published throughout.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexforge/lexforge/internal/agent"
	"github.com/lexforge/lexforge/internal/ledger"
	"github.com/lexforge/lexforge/internal/prompt"
	"github.com/lexforge/lexforge/internal/provider"
	"github.com/lexforge/lexforge/internal/reference"
	"github.com/lexforge/lexforge/internal/review"
	"github.com/lexforge/lexforge/internal/stream"
)

var (
	// ErrRunNotFound is returned for lookups of unknown or reaped runs.
	ErrRunNotFound = errors.New("run not found")
	// ErrInvalidRequest wraps all request validation failures.
	ErrInvalidRequest = errors.New("invalid generation request")
)

// EventRelay mirrors run events to an external bus. Implementations must not
// block the caller.
type EventRelay interface {
	Publish(ev stream.Event)
}

// Options tunes orchestration behavior. Zero values get sane defaults.
type Options struct {
	MaxCorrections int           // cap on corrective passes per run; 0 means the default of 1, negative disables correction
	Retention      time.Duration // how long terminal runs stay queryable
	EventBuffer    int           // per-run event channel capacity
	ReferenceTopK  int           // snippets fetched per run when retrieval is on
}

func (o Options) withDefaults() Options {
	switch {
	case o.MaxCorrections == 0:
		o.MaxCorrections = 1
	case o.MaxCorrections < 0:
		o.MaxCorrections = 0
	}
	if o.Retention <= 0 {
		o.Retention = 10 * time.Minute
	}
	if o.ReferenceTopK <= 0 {
		o.ReferenceTopK = 3
	}
	return o
}

// Service owns all live runs. Each run executes on its own goroutine; the
// service only routes lookups, subscriptions and cancellations to it.
type Service struct {
	client    *agent.Client
	agg       *review.Aggregator
	recorder  ledger.Recorder
	relay     EventRelay          // optional
	retriever reference.Retriever // optional
	logger    *zap.Logger
	opts      Options

	mu   sync.RWMutex
	runs map[string]*liveRun
}

// NewService creates the orchestrator. relay and retriever may be nil.
func NewService(client *agent.Client, agg *review.Aggregator, recorder ledger.Recorder, relay EventRelay, retriever reference.Retriever, opts Options, logger *zap.Logger) *Service {
	return &Service{
		client:    client,
		agg:       agg,
		recorder:  recorder,
		relay:     relay,
		retriever: retriever,
		logger:    logger,
		opts:      opts.withDefaults(),
		runs:      make(map[string]*liveRun),
	}
}

type liveRun struct {
	req    GenerationRequest
	mux    *stream.Mux
	cancel context.CancelFunc

	mu    sync.RWMutex
	state *RunState

	persistOnce sync.Once
}

// StartRun validates the request, registers a new run and launches its
// pipeline. It returns immediately with the run ID.
func (s *Service) StartRun(req GenerationRequest) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	lr := &liveRun{
		req:    req,
		mux:    stream.NewMux(id, s.opts.EventBuffer, s.logger),
		cancel: cancel,
		state: &RunState{
			ID:        id,
			Stage:     StageCreated,
			StartedAt: time.Now(),
		},
	}

	s.mu.Lock()
	s.runs[id] = lr
	s.mu.Unlock()

	s.logger.Info("run started",
		zap.String("run_id", id),
		zap.String("document_type", string(req.DocumentType)),
		zap.Int("effort_level", req.EffortLevel))

	go s.execute(ctx, lr)
	return id, nil
}

func validate(req GenerationRequest) error {
	if req.UserPrompt == "" {
		return fmt.Errorf("%w: empty user prompt", ErrInvalidRequest)
	}
	if !req.DocumentType.Valid() {
		return fmt.Errorf("%w: unknown document type %q", ErrInvalidRequest, req.DocumentType)
	}
	if req.EffortLevel < 1 || req.EffortLevel > 5 {
		return fmt.Errorf("%w: effort level %d out of range [1,5]", ErrInvalidRequest, req.EffortLevel)
	}
	return nil
}

// Cancel aborts a live run. Terminal runs are left untouched.
func (s *Service) Cancel(runID string) error {
	lr, err := s.lookup(runID)
	if err != nil {
		return err
	}
	lr.cancel()
	return nil
}

// Subscribe returns the run's ordered event channel. The channel closes after
// the terminal event. One subscriber per run.
func (s *Service) Subscribe(runID string) (<-chan stream.Event, error) {
	lr, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}
	return lr.mux.Events(), nil
}

// Snapshot returns a copy of the run's current state.
func (s *Service) Snapshot(runID string) (*RunState, error) {
	lr, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	st := *lr.state
	return &st, nil
}

func (s *Service) lookup(runID string) (*liveRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lr, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return lr, nil
}

// reviewersFor maps effort level to the reviewer roles to dispatch.
func reviewersFor(effort int) []agent.Role {
	switch {
	case effort <= 2:
		return nil
	case effort == 3:
		return []agent.Role{agent.RoleLegalReviewer}
	default:
		return agent.ReviewerRoles
	}
}

// execute runs the full pipeline for one run. It is the only goroutine that
// mutates the run's state.
func (s *Service) execute(ctx context.Context, lr *liveRun) {
	req := lr.req

	// Generation.
	s.setStage(lr, StageGenerating)
	refs := s.gatherReferences(ctx, lr)
	system, user := prompt.Generation(req.DocumentType, req.UserPrompt, refs, req.Context.History)

	genRun := s.invokeStreamed(ctx, lr, agent.RoleGenerator, system, user)
	lr.mu.Lock()
	lr.state.GenerationRun = genRun
	lr.mu.Unlock()
	s.emitFinished(lr, genRun)

	if genRun.Status != agent.StatusDone {
		if genRun.ErrKind == agent.ErrKindCancelled {
			s.fail(lr, "cancelled", agent.ErrKindCancelled)
			return
		}
		s.fail(lr, "generator "+string(genRun.Status)+": "+genRun.Err, genRun.ErrKind)
		return
	}
	if s.cancelled(ctx, lr) {
		return
	}
	draft := genRun.Text

	// Effort levels 1-2 ship the raw draft with no review at all.
	if len(reviewersFor(req.EffortLevel)) == 0 {
		s.finalize(lr, draft)
		return
	}

	// Review fan-out.
	findings := s.runReviewers(ctx, lr, req, draft)
	if s.cancelled(ctx, lr) {
		return
	}

	// Consensus.
	s.setStage(lr, StageDeciding)
	decision, err := s.agg.Decide(findings)
	if err != nil {
		s.fail(lr, err.Error(), agent.ErrKindInvocation)
		return
	}
	lr.mu.Lock()
	lr.state.Decision = decision
	lr.mu.Unlock()
	s.emit(lr, stream.EventDecisionMade, "", stream.DecisionPayload{
		Action:         string(decision.Action),
		AggregateScore: decision.AggregateScore,
		IssueCount:     len(decision.MergedIssues),
	})

	final := draft

	// Correction, at most once.
	if decision.Action == review.ActionCorrect && s.opts.MaxCorrections > 0 {
		if s.cancelled(ctx, lr) {
			return
		}
		s.setStage(lr, StageCorrecting)
		system, user := prompt.Correction(req.DocumentType, req.UserPrompt, draft, decision.MergedIssues)

		corrRun := s.invokeStreamed(ctx, lr, agent.RoleGenerator, system, user)
		lr.mu.Lock()
		lr.state.CorrectionRun = corrRun
		lr.mu.Unlock()
		s.emitFinished(lr, corrRun)

		if corrRun.Status == agent.StatusDone {
			final = corrRun.Text
		} else if corrRun.ErrKind == agent.ErrKindCancelled {
			s.fail(lr, "cancelled", agent.ErrKindCancelled)
			return
		} else {
			// A failed correction degrades to delivering the reviewed
			// draft rather than failing the whole run.
			s.logger.Warn("correction failed, delivering original draft",
				zap.String("run_id", lr.state.ID),
				zap.String("error", corrRun.Err))
		}
	}

	s.finalize(lr, final)
}

// gatherReferences merges caller-supplied references with retrieved snippets.
// Retrieval failure is logged and ignored.
func (s *Service) gatherReferences(ctx context.Context, lr *liveRun) []string {
	refs := append([]string(nil), lr.req.Context.References...)
	if s.retriever == nil {
		return refs
	}

	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	snippets, err := s.retriever.Retrieve(rctx, lr.req.UserPrompt, s.opts.ReferenceTopK)
	if err != nil {
		s.logger.Warn("reference retrieval failed",
			zap.String("run_id", lr.state.ID),
			zap.Error(err))
		return refs
	}
	for _, sn := range snippets {
		refs = append(refs, sn.Text)
	}
	return refs
}

// invokeStreamed invokes a role with live fragment events. The first fragment
// additionally carries the observed think time.
func (s *Service) invokeStreamed(ctx context.Context, lr *liveRun, role agent.Role, system, user string) *agent.Run {
	s.emit(lr, stream.EventAgentStarted, string(role), nil)
	start := time.Now()
	first := true
	sink := func(fragment string) {
		if first {
			first = false
			s.emit(lr, stream.EventAgentFirstFragment, string(role), stream.FirstFragmentPayload{
				ThinkTimeMs: time.Since(start).Milliseconds(),
			})
		}
		s.emit(lr, stream.EventAgentFragment, string(role), stream.FragmentPayload{Text: fragment})
	}
	return s.client.Invoke(ctx, role, system, user, sink)
}

// runReviewers dispatches all reviewers for the run's effort level in
// parallel, each streamed onto the event channel, and returns the findings of
// those that succeeded, in dispatch order. Reviewer failures (including
// unparseable critiques) are recorded on the runs and excluded from the
// findings.
func (s *Service) runReviewers(ctx context.Context, lr *liveRun, req GenerationRequest, draft string) []*review.Finding {
	roles := reviewersFor(req.EffortLevel)
	if len(roles) == 0 {
		return nil
	}

	s.setStage(lr, StageReviewing)

	runs := make([]*agent.Run, len(roles))
	parsed := make([]*review.Finding, len(roles))

	var wg sync.WaitGroup
	for i, role := range roles {
		wg.Add(1)
		go func(i int, role agent.Role) {
			defer wg.Done()

			system, user, err := prompt.Review(role, req.DocumentType, draft)
			if err != nil {
				run := &agent.Run{Role: role, ThinkStartedAt: time.Now()}
				run.MarkFailed(agent.ErrKindInvocation, err.Error())
				runs[i] = run
				return
			}

			run := s.invokeStreamed(ctx, lr, role, system, user)

			if run.Status == agent.StatusDone {
				finding, perr := review.ParseFinding(run.Text)
				if perr != nil {
					run.MarkFailed(agent.ErrKindParse, perr.Error())
				} else {
					parsed[i] = finding
				}
			}
			runs[i] = run
			s.emitFinished(lr, run)
		}(i, role)
	}
	wg.Wait()

	lr.mu.Lock()
	lr.state.ReviewRuns = runs
	lr.mu.Unlock()

	findings := make([]*review.Finding, 0, len(parsed))
	for _, f := range parsed {
		if f != nil {
			findings = append(findings, f)
		}
	}
	return findings
}

// cancelled checks for run cancellation between stages and fails the run if
// the context is gone.
func (s *Service) cancelled(ctx context.Context, lr *liveRun) bool {
	if ctx.Err() == nil {
		return false
	}
	kind := agent.ErrKindCancelled
	reason := "cancelled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = agent.ErrKindTimeout
		reason = "timed out"
	}
	s.fail(lr, reason, kind)
	return true
}

func (s *Service) setStage(lr *liveRun, stage Stage) {
	lr.mu.Lock()
	lr.state.Stage = stage
	lr.mu.Unlock()
	s.emit(lr, stream.EventStageChanged, "", stream.StagePayload{Stage: string(stage)})
}

func (s *Service) emit(lr *liveRun, t stream.EventType, role string, payload interface{}) {
	ev := lr.mux.Publish(t, role, payload)
	if s.relay != nil {
		s.relay.Publish(ev)
	}
}

func (s *Service) emitFinished(lr *liveRun, run *agent.Run) {
	s.emit(lr, stream.EventAgentFinished, string(run.Role), stream.AgentFinishedPayload{
		Status: string(run.Status),
		Usage:  run.Usage,
		Cost:   run.Cost,
	})
}

// fail transitions the run to its failed terminal state, emits the terminal
// event and persists the transcript.
func (s *Service) fail(lr *liveRun, reason string, kind agent.ErrorKind) {
	now := time.Now()
	lr.mu.Lock()
	lr.state.Stage = StageFailed
	lr.state.FailReason = reason
	lr.state.CompletedAt = &now
	lr.mu.Unlock()

	s.logger.Warn("run failed",
		zap.String("run_id", lr.state.ID),
		zap.String("reason", reason),
		zap.String("kind", string(kind)))

	s.emit(lr, stream.EventRunFailed, "", stream.FailedPayload{
		Reason: reason,
		Kind:   string(kind),
	})
	s.persist(lr)
	s.reapLater(lr.state.ID)
}

// finalize transitions the run to finalized, emits the terminal event and
// persists the transcript.
func (s *Service) finalize(lr *liveRun, final string) {
	now := time.Now()
	lr.mu.Lock()
	lr.state.Stage = StageFinalized
	lr.state.FinalContent = &final
	lr.state.CompletedAt = &now
	usage, cost := totals(lr.state)
	elapsed := now.Sub(lr.state.StartedAt)
	lr.mu.Unlock()

	s.logger.Info("run finalized",
		zap.String("run_id", lr.state.ID),
		zap.Duration("elapsed", elapsed),
		zap.Int("total_tokens", usage.TotalTokens))

	s.emit(lr, stream.EventRunFinalized, "", stream.FinalizedPayload{
		FinalContent: final,
		Usage:        usage,
		Cost:         cost,
		ElapsedMs:    elapsed.Milliseconds(),
	})
	s.persist(lr)
	s.reapLater(lr.state.ID)
}

// persist writes the transcript exactly once, failed runs included.
func (s *Service) persist(lr *liveRun) {
	lr.persistOnce.Do(func() {
		lr.mu.RLock()
		st := *lr.state
		lr.mu.RUnlock()

		usage, cost := totals(&st)
		completed := time.Now()
		if st.CompletedAt != nil {
			completed = *st.CompletedAt
		}
		t := &ledger.Transcript{
			RunID:        st.ID,
			UserPrompt:   lr.req.UserPrompt,
			DocumentType: string(lr.req.DocumentType),
			EffortLevel:  lr.req.EffortLevel,
			Stage:        string(st.Stage),
			FinalContent: st.FinalContent,
			FailReason:   st.FailReason,
			Decision:     st.Decision,
			AgentRuns:    st.allRuns(),
			Usage:        usage,
			Cost:         cost,
			StartedAt:    st.StartedAt,
			CompletedAt:  completed,
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.recorder.Persist(ctx, t); err != nil {
			s.logger.Error("transcript persist failed",
				zap.String("run_id", st.ID),
				zap.Error(err))
		}
	})
}

// reapLater drops the terminal run from the live table after retention.
func (s *Service) reapLater(runID string) {
	time.AfterFunc(s.opts.Retention, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}

// totals sums usage and cost across all agent runs. Cost is nil when no run
// had a priced model.
func totals(st *RunState) (usage provider.Usage, cost *float64) {
	for _, r := range st.allRuns() {
		usage.Add(r.Usage)
		if r.Cost != nil {
			if cost == nil {
				cost = new(float64)
			}
			*cost += *r.Cost
		}
	}
	return usage, cost
}
