package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/lexforge/lexforge/internal/agent"
	"github.com/lexforge/lexforge/internal/provider"
	"github.com/lexforge/lexforge/internal/review"
)

// startStore spins up a disposable PostgreSQL container with migrations
// applied. Skipped when Docker is not available.
func startStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	testcontainers.SkipIfProviderIsNotHealthy(t)

	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("lexforge_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := New(dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.Migrate(ctx, "../../migrations"))
	return store
}

func sampleTranscript(stage string) *Transcript {
	final := "ARTICLE 1. The parties agree."
	score := 8.5
	cost := 0.0123
	now := time.Now().UTC().Truncate(time.Millisecond)
	done := now.Add(2 * time.Second)

	genDone := done
	genFirst := now.Add(400 * time.Millisecond)
	tr := &Transcript{
		RunID:        uuid.NewString(),
		UserPrompt:   "draft a services agreement",
		DocumentType: "contract",
		EffortLevel:  4,
		Stage:        stage,
		FinalContent: &final,
		Decision: &review.Decision{
			Action:         review.ActionAcceptWithWarnings,
			MergedIssues:   []review.Issue{{Severity: review.SeverityMinor, Description: "dates inconsistent"}},
			AggregateScore: &score,
		},
		AgentRuns: []*agent.Run{
			{
				Role:           agent.RoleGenerator,
				Status:         agent.StatusDone,
				Text:           final,
				ThinkStartedAt: now,
				FirstTokenAt:   &genFirst,
				CompletedAt:    &genDone,
				Usage:          provider.Usage{PromptTokens: 100, CompletionTokens: 300, TotalTokens: 400},
			},
			{
				Role:           agent.RoleLegalReviewer,
				Status:         agent.StatusFailed,
				ThinkStartedAt: now,
				Err:            "critique is missing a score",
				ErrKind:        agent.ErrKindParse,
			},
		},
		Usage:       provider.Usage{PromptTokens: 150, CompletionTokens: 350, TotalTokens: 500},
		Cost:        &cost,
		StartedAt:   now,
		CompletedAt: done,
	}
	if stage == "failed" {
		tr.FinalContent = nil
		tr.FailReason = "generator timeout"
		tr.Decision = nil
	}
	return tr
}

func TestPersistAndReadBack(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	tr := sampleTranscript("finalized")
	require.NoError(t, store.Persist(ctx, tr))

	var (
		stage      string
		final      *string
		effort     int
		prompt     int
		completion int
	)
	row := store.db.QueryRow(ctx,
		`SELECT stage, final_content, effort_level, prompt_tokens, completion_tokens FROM runs WHERE id = $1`,
		tr.RunID)
	require.NoError(t, row.Scan(&stage, &final, &effort, &prompt, &completion))
	require.Equal(t, "finalized", stage)
	require.NotNil(t, final)
	require.Equal(t, *tr.FinalContent, *final)
	require.Equal(t, 4, effort)
	require.Equal(t, 150, prompt)
	require.Equal(t, 350, completion)

	var agentCount int
	row = store.db.QueryRow(ctx, `SELECT COUNT(*) FROM agent_runs WHERE run_id = $1`, tr.RunID)
	require.NoError(t, row.Scan(&agentCount))
	require.Equal(t, 2, agentCount)

	var errKind *string
	row = store.db.QueryRow(ctx,
		`SELECT error_kind FROM agent_runs WHERE run_id = $1 AND role = $2`,
		tr.RunID, string(agent.RoleLegalReviewer))
	require.NoError(t, row.Scan(&errKind))
	require.NotNil(t, errKind)
	require.Equal(t, string(agent.ErrKindParse), *errKind)
}

func TestPersistFailedRun(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	tr := sampleTranscript("failed")
	require.NoError(t, store.Persist(ctx, tr))

	var (
		final  *string
		reason *string
	)
	row := store.db.QueryRow(ctx,
		`SELECT final_content, fail_reason FROM runs WHERE id = $1`, tr.RunID)
	require.NoError(t, row.Scan(&final, &reason))
	require.Nil(t, final)
	require.NotNil(t, reason)
	require.Equal(t, "generator timeout", *reason)
}

func TestPersistDuplicateRejected(t *testing.T) {
	store := startStore(t)
	ctx := context.Background()

	tr := sampleTranscript("finalized")
	require.NoError(t, store.Persist(ctx, tr))
	require.Error(t, store.Persist(ctx, tr), "second persist of the same run must hit the primary key")
}

func TestMigrateIdempotent(t *testing.T) {
	store := startStore(t)
	require.NoError(t, store.Migrate(context.Background(), "../../migrations"))
}
