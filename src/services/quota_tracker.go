package services

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/quizforge/credpool/src/logging"
	"github.com/quizforge/credpool/src/models"
	"github.com/quizforge/credpool/src/repositories"
)

// ChargeResult is the outcome of a quota charge.
type ChargeResult int

const (
	// ChargeAccepted indicates the usage was charged within the daily budget
	ChargeAccepted ChargeResult = iota
	// ChargeExhausted indicates the charge would exceed the budget; the key has
	// been moved to exhausted and the caller should try another key
	ChargeExhausted
)

// QuotaTracker enforces each key's daily budget. Quota is enforced at the
// point of charge, not pre-checked then charged: the store's conditional
// update is the single source of truth, which eliminates the lost-update
// race between concurrent callers.
type QuotaTracker struct {
	repo repositories.CredentialRepository
	log  zerolog.Logger
}

// NewQuotaTracker creates a quota tracker over the given repository.
func NewQuotaTracker(repo repositories.CredentialRepository) *QuotaTracker {
	return &QuotaTracker{
		repo: repo,
		log:  logging.NewLogger("quota_tracker"),
	}
}

// Remaining returns the unspent portion of a key's daily budget.
func (t *QuotaTracker) Remaining(k *models.Key) int {
	return k.Remaining()
}

// Charge records amount units of usage against a key. When the
// conditional update does not apply, the key is transitioned to
// exhausted and ChargeExhausted is returned so the caller can re-select.
func (t *QuotaTracker) Charge(ctx context.Context, keyID int64, amount int) (ChargeResult, error) {
	ok, err := t.repo.ChargeUsage(ctx, keyID, amount)
	if err != nil {
		return ChargeExhausted, err
	}
	if ok {
		return ChargeAccepted, nil
	}

	return ChargeExhausted, t.MarkExhausted(ctx, keyID)
}

// MarkExhausted transitions a key to the exhausted state. It becomes
// usable again only at the daily rollover; there is no partial quota
// restoration.
func (t *QuotaTracker) MarkExhausted(ctx context.Context, keyID int64) error {
	moved, err := t.repo.SetStatus(ctx, keyID, models.KeyStatusExhausted, nil)
	if err != nil {
		return err
	}
	if moved {
		t.log.Info().Int64("key_id", keyID).Msg("key exhausted for the day")
	}
	return nil
}

// ResetAll is the daily rollover: usage cleared for every non-disabled
// key, exhausted keys returned to active. Idempotent: running it twice
// yields the same state as once.
func (t *QuotaTracker) ResetAll(ctx context.Context) (int64, error) {
	n, err := t.repo.ResetDaily(ctx)
	if err != nil {
		return 0, err
	}
	t.log.Info().Int64("keys", n).Msg("daily quota reset")
	return n, nil
}
