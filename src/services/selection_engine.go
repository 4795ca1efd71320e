package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/quizforge/credpool/src/cache"
	"github.com/quizforge/credpool/src/logging"
	"github.com/quizforge/credpool/src/models"
	"github.com/quizforge/credpool/src/repositories"
)

// SelectionEngine is the single entry point callers use: it hands out the
// best currently-usable credential for a provider and routes the reported
// outcome of each call back into the quota tracker, the circuit breaker
// and the exhaustion cache.
//
// Selection is deliberately not globally locked: two concurrent callers
// may pick the same least-used key. That is self-correcting (the next
// selection sees the updated usage) and cheaper than a pool-wide lock.
type SelectionEngine struct {
	repo     repositories.CredentialRepository
	cache    cache.Store
	rotation *RotationOrderBuilder
	quota    *QuotaTracker
	breaker  *CircuitBreaker

	// TTLs for exhaustion cache marks: cacheTTL for quota/permanent
	// conditions, blockTTL mirrors the circuit breaker's block window
	cacheTTL time.Duration
	blockTTL time.Duration

	log zerolog.Logger
}

// NewSelectionEngine wires the engine over its collaborators.
func NewSelectionEngine(
	repo repositories.CredentialRepository,
	cacheStore cache.Store,
	rotation *RotationOrderBuilder,
	quota *QuotaTracker,
	breaker *CircuitBreaker,
	cacheTTL, blockTTL time.Duration,
) *SelectionEngine {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	if blockTTL <= 0 {
		blockTTL = 30 * time.Minute
	}
	return &SelectionEngine{
		repo:     repo,
		cache:    cacheStore,
		rotation: rotation,
		quota:    quota,
		breaker:  breaker,
		cacheTTL: cacheTTL,
		blockTTL: blockTTL,
		log:      logging.NewLogger("selection_engine"),
	}
}

// SelectCredential returns the best currently-usable credential for the
// provider, decrypted, or ErrNoneAvailable when the pool is exhausted.
// Fingerprints in excluding are skipped, which lets a caller retry with a
// second key within one logical request.
//
// ErrNoneAvailable means "pool exhausted" and must not be blindly
// retried; ErrStoreUnavailable means the backend is unreachable.
func (e *SelectionEngine) SelectCredential(ctx context.Context, provider string, excluding map[string]struct{}) (*models.Credential, error) {
	candidates, err := e.repo.ListCandidates(ctx, provider)
	if err != nil {
		return nil, err
	}

	for _, partition := range e.rotation.Partitions(candidates) {
		usable := e.filterUsable(ctx, partition, excluding)
		if len(usable) == 0 {
			continue
		}

		sortForSelection(usable)

		for _, k := range usable {
			plaintext, err := e.repo.Decrypt(k.EncryptedBlob)
			if err != nil {
				// A bad blob disqualifies this key, not the selection
				e.log.Warn().
					Int64("key_id", k.ID).
					Str("key", k.HashSuffix()).
					Err(err).
					Msg("skipping undecryptable key")
				continue
			}
			return &models.Credential{Key: k, Plaintext: plaintext, Model: k.Model}, nil
		}
	}

	return nil, fmt.Errorf("provider %s: %w", provider, ErrNoneAvailable)
}

// ReportOutcome feeds the result of one outbound call back into the pool.
// unitsConsumed is only meaningful for Success.
func (e *SelectionEngine) ReportOutcome(ctx context.Context, keyID int64, outcome models.Outcome, unitsConsumed int) error {
	k, err := e.repo.GetKeyByID(ctx, keyID)
	if err != nil {
		return err
	}
	if k == nil {
		return ErrKeyNotFound
	}

	switch outcome {
	case models.OutcomeSuccess:
		if err := e.breaker.RecordSuccess(ctx, keyID); err != nil {
			return err
		}
		if unitsConsumed > 0 {
			res, err := e.quota.Charge(ctx, keyID, unitsConsumed)
			if err != nil {
				return err
			}
			if res == ChargeExhausted {
				e.markUnusable(ctx, k.KeyHash, e.cacheTTL)
			}
		}
		return nil

	case models.OutcomeExhausted:
		if err := e.quota.MarkExhausted(ctx, keyID); err != nil {
			return err
		}
		e.markUnusable(ctx, k.KeyHash, e.cacheTTL)
		return nil

	case models.OutcomeTransientFailure:
		if err := e.breaker.RecordFailure(ctx, keyID, true); err != nil {
			return err
		}
		e.markUnusable(ctx, k.KeyHash, e.blockTTL)
		return nil

	case models.OutcomePermanentFailure:
		if err := e.breaker.RecordFailure(ctx, keyID, false); err != nil {
			return err
		}
		e.markUnusable(ctx, k.KeyHash, e.cacheTTL)
		return nil
	}

	return fmt.Errorf("unknown outcome %q", outcome)
}

// filterUsable drops excluded and cache-marked keys. Cache errors degrade
// to "not marked": the cache is advisory and the charge-time conditional
// update corrects any false negative.
func (e *SelectionEngine) filterUsable(ctx context.Context, keys []models.Key, excluding map[string]struct{}) []models.Key {
	usable := keys[:0:0]
	for _, k := range keys {
		if _, skip := excluding[k.KeyHash]; skip {
			continue
		}
		marked, err := e.cache.IsMarkedUnusable(ctx, k.KeyHash)
		if err != nil {
			e.log.Warn().Err(err).Str("key", k.HashSuffix()).Msg("exhaustion cache read failed; treating key as usable")
		} else if marked {
			continue
		}
		usable = append(usable, k)
	}
	return usable
}

// markUnusable is best-effort: a failed mark only costs a store round
// trip on a later selection.
func (e *SelectionEngine) markUnusable(ctx context.Context, fingerprint string, ttl time.Duration) {
	if err := e.cache.MarkUnusable(ctx, fingerprint, ttl); err != nil {
		e.log.Warn().Err(err).Msg("exhaustion cache write failed")
	}
}

// sortForSelection orders keys within a rotation partition: account
// priority, then least used today, then least recently used with
// never-used keys first.
func sortForSelection(keys []models.Key) {
	sort.SliceStable(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.AccountPriority != b.AccountPriority {
			return a.AccountPriority < b.AccountPriority
		}
		if a.UsedToday != b.UsedToday {
			return a.UsedToday < b.UsedToday
		}
		switch {
		case a.LastUsedAt == nil && b.LastUsedAt != nil:
			return true
		case a.LastUsedAt != nil && b.LastUsedAt == nil:
			return false
		case a.LastUsedAt != nil && b.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
			return a.LastUsedAt.Before(*b.LastUsedAt)
		}
		return a.ID < b.ID
	})
}

// IsNoneAvailable reports whether err is the pool-exhausted outcome.
func IsNoneAvailable(err error) bool {
	return errors.Is(err, ErrNoneAvailable)
}
