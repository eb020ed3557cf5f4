package redis

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/lingvohub/lingvo-engine/internal/domain/grading"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
	"github.com/lingvohub/lingvo-engine/pkg/circuitbreaker"
	"github.com/lingvohub/lingvo-engine/pkg/logger"
)

// SubmissionGuard rejects a byte-identical resubmission of the same lesson
// while the first one is inside the duplicate window. It fails open: when
// Redis is unreachable the submission goes through.
type SubmissionGuard struct {
	cache   *Cache
	window  time.Duration
	breaker *circuitbreaker.CircuitBreaker
	log     *slog.Logger
}

// NewSubmissionGuard creates a guard. A nil breaker gets CacheBreaker defaults.
func NewSubmissionGuard(cache *Cache, window time.Duration, breaker *circuitbreaker.CircuitBreaker, log *slog.Logger) *SubmissionGuard {
	if window <= 0 {
		window = 10 * time.Second
	}
	if breaker == nil {
		breaker = circuitbreaker.CacheBreaker(nil)
	}
	return &SubmissionGuard{
		cache:   cache,
		window:  window,
		breaker: breaker,
		log:     logger.OrDefault(log).With(logger.Component("submission_guard")),
	}
}

// Fingerprint hashes the user, lesson and answers of a submission.
func Fingerprint(userID shared.UserID, lessonID shared.LessonID, answers []grading.SubmittedAnswer) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(lessonID))
	h.Write([]byte{0})
	// encoding/json sorts map keys, so equal answers encode equally.
	if err := json.NewEncoder(h).Encode(answers); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Acquire claims the fingerprint of a submission for the duplicate window.
// It returns shared.ErrDuplicateSubmitted when an identical submission holds
// it. The returned release frees the claim early, e.g. when grading rejects
// the submission; it is never nil.
func (g *SubmissionGuard) Acquire(ctx context.Context, userID shared.UserID, lessonID shared.LessonID, answers []grading.SubmittedAnswer) (release func(), err error) {
	noop := func() {}

	fp, err := Fingerprint(userID, lessonID, answers)
	if err != nil {
		return noop, err
	}
	key := SubmissionKey(fp)

	ok, err := circuitbreaker.Call(ctx, g.breaker, func(ctx context.Context) (bool, error) {
		return g.cache.SetNX(ctx, key, userID.String(), g.window)
	})
	if err != nil {
		if !circuitbreaker.IsRejected(err) {
			g.log.WarnContext(ctx, "duplicate check skipped", logger.UserID(userID.String()), logger.Err(err))
		}
		return noop, nil
	}
	if !ok {
		return noop, shared.ErrDuplicateSubmitted
	}

	return func() {
		if err := g.cache.Delete(context.WithoutCancel(ctx), key); err != nil {
			g.log.WarnContext(ctx, "release of submission fingerprint failed", logger.Err(err))
		}
	}, nil
}
