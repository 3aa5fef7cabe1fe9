package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store is a PostgreSQL-backed Recorder.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Store with a pgx connection pool.
func New(dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("migration applied", zap.String("file", f))
	}
	return nil
}

// Persist writes one transcript: a runs row plus one agent_runs row per
// invocation, in a single transaction.
func (s *Store) Persist(ctx context.Context, t *Transcript) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transcript tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var decisionJSON []byte
	if t.Decision != nil {
		decisionJSON, err = json.Marshal(t.Decision)
		if err != nil {
			return fmt.Errorf("marshal decision: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (id, user_prompt, document_type, effort_level, stage,
		                  final_content, fail_reason, decision, prompt_tokens,
		                  completion_tokens, cost_usd, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.RunID, t.UserPrompt, t.DocumentType, t.EffortLevel, t.Stage,
		t.FinalContent, nullIfEmpty(t.FailReason), decisionJSON,
		t.Usage.PromptTokens, t.Usage.CompletionTokens, t.Cost,
		t.StartedAt, t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", t.RunID, err)
	}

	for _, r := range t.AgentRuns {
		_, err = tx.Exec(ctx, `
			INSERT INTO agent_runs (run_id, role, status, output, error, error_kind,
			                        prompt_tokens, completion_tokens, cost_usd,
			                        think_ms, elapsed_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			t.RunID, string(r.Role), string(r.Status), r.Text,
			nullIfEmpty(r.Err), nullIfEmpty(string(r.ErrKind)),
			r.Usage.PromptTokens, r.Usage.CompletionTokens, r.Cost,
			r.ThinkTime().Milliseconds(), r.Elapsed().Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert agent run %s/%s: %w", t.RunID, r.Role, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transcript: %w", err)
	}
	s.logger.Info("transcript persisted",
		zap.String("run_id", t.RunID),
		zap.String("stage", t.Stage),
		zap.Int("agent_runs", len(t.AgentRuns)))
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}
