package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestMuxOrderedSequence(t *testing.T) {
	m := NewMux("run-1", 8, zap.NewNop())

	m.Publish(EventStageChanged, "", StagePayload{Stage: "generating"})
	m.Publish(EventAgentStarted, "generator", nil)
	m.Publish(EventAgentFragment, "generator", FragmentPayload{Text: "hello"})

	var last uint64
	for i := 0; i < 3; i++ {
		ev := <-m.Events()
		if ev.Seq <= last {
			t.Errorf("sequence not monotonic: %d after %d", ev.Seq, last)
		}
		last = ev.Seq
		if ev.RunID != "run-1" {
			t.Errorf("got run id %q", ev.RunID)
		}
	}
}

func TestMuxTerminalClosesChannel(t *testing.T) {
	m := NewMux("run-1", 8, zap.NewNop())

	m.Publish(EventStageChanged, "", StagePayload{Stage: "generating"})
	m.Publish(EventRunFinalized, "", FinalizedPayload{FinalContent: "doc"})

	// Publishes after the terminal event are ignored.
	m.Publish(EventAgentFragment, "generator", FragmentPayload{Text: "late"})

	var events []Event
	for ev := range m.Events() {
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Type != EventRunFinalized {
		t.Errorf("got final event %q, want run_finalized", events[1].Type)
	}
}

func TestMuxDropsWhenFull(t *testing.T) {
	m := NewMux("run-1", 2, zap.NewNop())

	for i := 0; i < 5; i++ {
		m.Publish(EventAgentFragment, "generator", FragmentPayload{Text: "x"})
	}
	if m.Dropped() != 3 {
		t.Errorf("got %d dropped, want 3", m.Dropped())
	}

	// The retained events still carry their original sequence numbers, so the
	// consumer can detect the gap.
	first := <-m.Events()
	if first.Seq != 1 {
		t.Errorf("got first seq %d, want 1", first.Seq)
	}
}

func TestEventTypeTerminal(t *testing.T) {
	if !EventRunFinalized.Terminal() || !EventRunFailed.Terminal() {
		t.Error("terminal event types misreported")
	}
	if EventAgentFragment.Terminal() || EventStageChanged.Terminal() {
		t.Error("non-terminal event types misreported")
	}
}

func TestServeSSE(t *testing.T) {
	m := NewMux("run-1", 8, zap.NewNop())
	m.Publish(EventStageChanged, "", StagePayload{Stage: "generating"})
	m.Publish(EventRunFinalized, "", FinalizedPayload{FinalContent: "the document"})

	rec := httptest.NewRecorder()
	if err := ServeSSE(context.Background(), rec, m.Events()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("got content type %q", ct)
	}

	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2: %q", len(frames), rec.Body.String())
	}
	for _, frame := range frames {
		if !strings.HasPrefix(frame, "data: ") {
			t.Fatalf("bad frame %q", frame)
		}
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev); err != nil {
			t.Fatalf("frame is not a JSON event: %v", err)
		}
	}
}
