package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lexforge/lexforge/internal/agent"
	"github.com/lexforge/lexforge/internal/ledger"
	"github.com/lexforge/lexforge/internal/orchestrator"
	"github.com/lexforge/lexforge/internal/provider"
	"github.com/lexforge/lexforge/internal/review"
	"github.com/lexforge/lexforge/internal/stream"
)

// scriptedProvider answers every request instantly: the drafter model streams
// a tiny draft, the critic model streams a clean critique.
type scriptedProvider struct{}

func (s *scriptedProvider) ID() string                            { return "scripted" }
func (s *scriptedProvider) Name() string                          { return "Scripted" }
func (s *scriptedProvider) HealthCheck(ctx context.Context) error { return nil }

func (s *scriptedProvider) content(model string) string {
	if model == "critic" {
		return `{"score": 9, "issues": []}`
	}
	return "AGREEMENT draft."
}

func (s *scriptedProvider) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.Completion, error) {
	return &provider.Completion{Content: s.content(req.Model)}, nil
}

func (s *scriptedProvider) Stream(ctx context.Context, req *provider.CompletionRequest) (<-chan *provider.Chunk, error) {
	ch := make(chan *provider.Chunk, 2)
	ch <- &provider.Chunk{Content: s.content(req.Model)}
	ch <- &provider.Chunk{Done: true}
	return ch, nil
}

// newTestHandler creates a Handler wired with in-memory deps (no Postgres/Redis).
func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	logger := zap.NewNop()

	router := provider.NewRouter(logger)
	router.Register(&scriptedProvider{}, nil)
	router.Bind(string(agent.RoleGenerator), provider.Binding{ProviderID: "scripted", Model: "drafter"})
	for _, role := range []agent.Role{agent.RoleLegalReviewer, agent.RoleTextualReviewer} {
		router.Bind(string(role), provider.Binding{ProviderID: "scripted", Model: "critic"})
	}

	client := agent.NewClient(router, logger)
	agg := review.NewAggregator(6.0, 0.6, logger)
	svc := orchestrator.NewService(client, agg, ledger.NewNoopRecorder(logger), nil, nil,
		orchestrator.Options{MaxCorrections: 1}, logger)

	h := NewHandler(svc, router, nil, logger)
	return h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
	if body["service"] != "lexforge" {
		t.Errorf("expected service lexforge, got %q", body["service"])
	}
}

func TestListProviders(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := getJSON(t, ts, "/api/providers")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var provs []struct {
		ID      string `json:"id"`
		Healthy bool   `json:"healthy"`
	}
	decodeJSON(t, resp, &provs)
	if len(provs) != 1 || provs[0].ID != "scripted" || !provs[0].Healthy {
		t.Errorf("got providers %+v", provs)
	}
}

func TestCreateRunAndFetch(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/runs", map[string]interface{}{
		"user_prompt":   "draft a services contract",
		"document_type": "contract",
		"effort_level":  3,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var created map[string]string
	decodeJSON(t, resp, &created)
	runID := created["run_id"]
	if runID == "" {
		t.Fatal("no run_id in response")
	}

	// The run finishes quickly with scripted agents; poll for the terminal stage.
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp = getJSON(t, ts, "/api/runs/"+runID)
		if resp.StatusCode != 200 {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		var st struct {
			Stage        string  `json:"stage"`
			FinalContent *string `json:"final_content"`
		}
		decodeJSON(t, resp, &st)
		if st.Stage == "finalized" {
			if st.FinalContent == nil || !strings.Contains(*st.FinalContent, "AGREEMENT") {
				t.Errorf("final content missing: %v", st.FinalContent)
			}
			break
		}
		if st.Stage == "failed" {
			t.Fatal("run failed unexpectedly")
		}
		if time.Now().After(deadline) {
			t.Fatalf("run stuck in stage %q", st.Stage)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCreateRunValidation(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/runs", map[string]interface{}{
		"document_type": "contract",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for empty prompt, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/runs", map[string]interface{}{
		"user_prompt":   "x",
		"document_type": "sonnet",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown document type, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStreamEvents(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := postJSON(t, ts, "/api/runs", map[string]interface{}{
		"user_prompt":   "draft a petition",
		"document_type": "petition",
		"effort_level":  1,
	})
	var created map[string]string
	decodeJSON(t, resp, &created)

	resp = getJSON(t, ts, "/api/runs/"+created["run_id"]+"/events")
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("got content type %q", ct)
	}

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev stream.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad event frame: %v", err)
		}
		types = append(types, string(ev.Type))
	}

	if len(types) == 0 {
		t.Fatal("no events received")
	}
	if types[len(types)-1] != string(stream.EventRunFinalized) {
		t.Errorf("stream did not end with run_finalized: %v", types)
	}
}

func TestRunNotFound(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := getJSON(t, ts, "/api/runs/00000000-0000-0000-0000-000000000000")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/runs/00000000-0000-0000-0000-000000000000/cancel", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("cancel: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEventHistoryDisabled(t *testing.T) {
	ts := httptest.NewServer(newTestHandler(t))
	defer ts.Close()

	resp := getJSON(t, ts, "/api/runs/some-id/history")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a relay, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
