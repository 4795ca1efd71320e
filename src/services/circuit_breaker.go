package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizforge/credpool/src/logging"
	"github.com/quizforge/credpool/src/models"
	"github.com/quizforge/credpool/src/repositories"
)

// CircuitBreaker protects the pool from repeatedly selecting a failing
// key. Per key: consecutive failures reaching the threshold disable it
// permanently; a transient failure below the threshold puts it on a timed
// block that the periodic sweep lifts. Transitions are idempotent and
// commutative enough that concurrent invocation needs no extra locking:
// the store's field-scoped conditional updates carry the invariants.
type CircuitBreaker struct {
	repo      repositories.CredentialRepository
	threshold int
	blockFor  time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewCircuitBreaker creates a circuit breaker. threshold <= 0 and
// blockFor <= 0 fall back to 3 failures and 30 minutes.
func NewCircuitBreaker(repo repositories.CredentialRepository, threshold int, blockFor time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if blockFor <= 0 {
		blockFor = 30 * time.Minute
	}
	return &CircuitBreaker{
		repo:      repo,
		threshold: threshold,
		blockFor:  blockFor,
		now:       time.Now,
		log:       logging.NewLogger("circuit_breaker"),
	}
}

// RecordSuccess resets the key's failure counter.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, keyID int64) error {
	return cb.repo.ResetFailures(ctx, keyID)
}

// RecordFailure counts one failure against the key. Reaching the
// threshold disables the key permanently, regardless of transient. Below
// the threshold, a transient failure (rate limiting and the like) blocks
// the key until now+blockFor.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, keyID int64, transient bool) error {
	n, err := cb.repo.IncrementFailures(ctx, keyID)
	if err != nil {
		return err
	}
	if n == 0 {
		// Key is gone or already disabled; nothing to do
		return nil
	}

	if n >= cb.threshold {
		moved, err := cb.repo.SetStatus(ctx, keyID, models.KeyStatusDisabled, nil)
		if err != nil {
			return err
		}
		if moved {
			cb.log.Warn().
				Int64("key_id", keyID).
				Int("consecutive_failures", n).
				Msg("key disabled after repeated failures; operator action required to re-enable")
		}
		return nil
	}

	if transient {
		until := cb.now().Add(cb.blockFor)
		moved, err := cb.repo.SetStatus(ctx, keyID, models.KeyStatusTemporarilyBlocked, &until)
		if err != nil {
			return err
		}
		if moved {
			cb.log.Info().
				Int64("key_id", keyID).
				Time("blocked_until", until).
				Msg("key temporarily blocked after transient failure")
		}
	}

	return nil
}

// SweepExpiredBlocks returns every key whose temporary block has lapsed
// to active with a clean failure counter. Idempotent; safe to call
// concurrently and periodically.
func (cb *CircuitBreaker) SweepExpiredBlocks(ctx context.Context) (int64, error) {
	n, err := cb.repo.UnblockExpired(ctx, cb.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		cb.log.Info().Int64("keys", n).Msg("expired blocks lifted")
	}
	return n, nil
}
