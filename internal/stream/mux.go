// Package stream multiplexes a run's internal events into one ordered,
// labeled event channel consumable by a single long-lived client connection.
package stream

import (
	"sync"

	"github.com/lexforge/lexforge/internal/provider"
	"go.uber.org/zap"
)

// EventType labels one kind of run event.
type EventType string

const (
	EventStageChanged       EventType = "stage_changed"
	EventAgentStarted       EventType = "agent_started"
	EventAgentFirstFragment EventType = "agent_first_fragment"
	EventAgentFragment      EventType = "agent_fragment"
	EventAgentFinished      EventType = "agent_finished"
	EventDecisionMade       EventType = "decision_made"
	EventRunFinalized       EventType = "run_finalized"
	EventRunFailed          EventType = "run_failed"
)

// Terminal reports whether this event type ends the stream.
func (t EventType) Terminal() bool {
	return t == EventRunFinalized || t == EventRunFailed
}

// Event is the envelope delivered to stream consumers. Seq is monotonically
// increasing per run; events from different roles may interleave arbitrarily,
// so consumers demultiplex on Role.
type Event struct {
	Type    EventType   `json:"type"`
	Role    string      `json:"role,omitempty"`
	RunID   string      `json:"run_id"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload,omitempty"`
}

// Event payloads.
type (
	StagePayload struct {
		Stage string `json:"stage"`
	}
	FirstFragmentPayload struct {
		ThinkTimeMs int64 `json:"think_time_ms"`
	}
	FragmentPayload struct {
		Text string `json:"text"`
	}
	AgentFinishedPayload struct {
		Status string         `json:"status"`
		Usage  provider.Usage `json:"usage"`
		Cost   *float64       `json:"cost,omitempty"`
	}
	DecisionPayload struct {
		Action         string   `json:"action"`
		AggregateScore *float64 `json:"aggregate_score"`
		IssueCount     int      `json:"issue_count"`
	}
	FinalizedPayload struct {
		FinalContent string         `json:"final_content"`
		Usage        provider.Usage `json:"usage"`
		Cost         *float64       `json:"cost,omitempty"`
		ElapsedMs    int64          `json:"elapsed_ms"`
	}
	FailedPayload struct {
		Reason string `json:"reason"`
		Kind   string `json:"kind,omitempty"`
	}
)

// Mux is the per-run event multiplexer. Producers publish from any goroutine;
// one subscriber consumes the ordered stream. Delivery is at-most-once: when
// the subscriber falls behind the buffer, events are dropped rather than
// blocking the run.
type Mux struct {
	runID   string
	ch      chan Event
	mu      sync.Mutex
	seq     uint64
	closed  bool
	dropped uint64
	logger  *zap.Logger
}

// NewMux creates a multiplexer for one run.
func NewMux(runID string, buffer int, logger *zap.Logger) *Mux {
	if buffer <= 0 {
		buffer = 256
	}
	return &Mux{
		runID:  runID,
		ch:     make(chan Event, buffer),
		logger: logger,
	}
}

// Events returns the subscriber channel. It is closed after the terminal event.
func (m *Mux) Events() <-chan Event { return m.ch }

// Publish emits one event with the next sequence number. Publishing a
// terminal event closes the stream; later publishes are ignored.
func (m *Mux) Publish(t EventType, role string, payload interface{}) Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := Event{Type: t, Role: role, RunID: m.runID, Seq: m.seq, Payload: payload}
	if m.closed {
		return ev
	}
	m.seq++
	ev.Seq = m.seq

	select {
	case m.ch <- ev:
	default:
		m.dropped++
		m.logger.Warn("event dropped, subscriber too slow",
			zap.String("run_id", m.runID),
			zap.String("type", string(t)),
			zap.Uint64("seq", ev.Seq))
	}

	if t.Terminal() {
		m.closed = true
		close(m.ch)
	}
	return ev
}

// Dropped returns how many events were discarded due to a slow subscriber.
func (m *Mux) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
