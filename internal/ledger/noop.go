package ledger

import (
	"context"

	"go.uber.org/zap"
)

// NoopRecorder discards transcripts. Used when the service runs without a
// database; every drop is logged so the operator sees what is being lost.
type NoopRecorder struct {
	logger *zap.Logger
}

// NewNoopRecorder creates a discarding recorder.
func NewNoopRecorder(logger *zap.Logger) *NoopRecorder {
	return &NoopRecorder{logger: logger}
}

// Persist logs and drops the transcript.
func (n *NoopRecorder) Persist(_ context.Context, t *Transcript) error {
	n.logger.Warn("transcript dropped, persistence disabled",
		zap.String("run_id", t.RunID),
		zap.String("stage", t.Stage))
	return nil
}
