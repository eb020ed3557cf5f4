package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPLAY DEAD LETTERS JOB
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterReplayer re-runs events whose listeners exhausted their retries.
// Implemented by messaging.Dispatcher.
type DeadLetterReplayer interface {
	ReplayDeadLetters(ctx context.Context, limit int) (int, error)
}

// ReplayDeadLettersJob gives failed listener deliveries another chance,
// e.g. after a database outage. Listeners are idempotent per submission,
// so a replay never double-counts.
type ReplayDeadLettersJob struct {
	replayer  DeadLetterReplayer
	batchSize int
	logger    *slog.Logger

	totalReplayed atomic.Int64
}

// NewReplayDeadLettersJob creates the job. batchSize <= 0 defaults to 100.
func NewReplayDeadLettersJob(replayer DeadLetterReplayer, batchSize int, log *slog.Logger) *ReplayDeadLettersJob {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ReplayDeadLettersJob{
		replayer:  replayer,
		batchSize: batchSize,
		logger:    logger.OrDefault(log).With(logger.Component("replay_dead_letters")),
	}
}

// Name returns the job name.
func (j *ReplayDeadLettersJob) Name() string {
	return "replay_dead_letters"
}

// Description returns a human-readable description.
func (j *ReplayDeadLettersJob) Description() string {
	return "Replays dead-lettered events through their listeners"
}

// Run executes the job.
func (j *ReplayDeadLettersJob) Run(ctx context.Context) error {
	n, err := j.replayer.ReplayDeadLetters(ctx, j.batchSize)
	j.totalReplayed.Add(int64(n))
	if err != nil {
		return fmt.Errorf("replay dead letters: %w", err)
	}
	if n > 0 {
		j.logger.InfoContext(ctx, "dead letters replayed", slog.Int("replayed", n))
	}
	return nil
}

// TotalReplayed returns how many entries were replayed successfully since start.
func (j *ReplayDeadLettersJob) TotalReplayed() int64 {
	return j.totalReplayed.Load()
}
