// Package jobs contains the scheduled jobs of the learning engine.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPIRE STALE RECOMMENDATIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// StaleCounter counts recommendations that expired without being completed.
// Implemented by recommendation.Manager.
type StaleCounter interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

// ExpireRecommendationsJob reports how many recommendations have gone stale.
// Reads already hide expired entries, so the job only counts them for
// operators; it never deletes.
type ExpireRecommendationsJob struct {
	counter StaleCounter
	now     func() time.Time
	logger  *slog.Logger

	lastCount atomic.Int64
}

// NewExpireRecommendationsJob creates the job. now defaults to time.Now.
func NewExpireRecommendationsJob(counter StaleCounter, now func() time.Time, log *slog.Logger) *ExpireRecommendationsJob {
	if now == nil {
		now = time.Now
	}
	return &ExpireRecommendationsJob{
		counter: counter,
		now:     now,
		logger:  logger.OrDefault(log).With(logger.Component("expire_stale_recommendations")),
	}
}

// Name returns the job name.
func (j *ExpireRecommendationsJob) Name() string {
	return "expire_stale_recommendations"
}

// Description returns a human-readable description.
func (j *ExpireRecommendationsJob) Description() string {
	return "Counts recommendations that expired before being completed"
}

// Run executes the job.
func (j *ExpireRecommendationsJob) Run(ctx context.Context) error {
	n, err := j.counter.ExpireStale(ctx, j.now())
	if err != nil {
		return fmt.Errorf("count expired recommendations: %w", err)
	}
	j.lastCount.Store(int64(n))
	j.logger.InfoContext(ctx, "stale recommendations counted", slog.Int("expired", n))
	return nil
}

// LastCount returns the result of the most recent successful run.
func (j *ExpireRecommendationsJob) LastCount() int {
	return int(j.lastCount.Load())
}
