package repositories

import (
	"context"
	"time"

	"github.com/quizforge/credpool/src/models"
)

// CredentialRepository defines the data access contract the pool
// components share. All mutation is field-scoped: no method overwrites a
// full row, so concurrent callers never clobber each other's updates.
type CredentialRepository interface {
	// Registration (idempotent)
	UpsertAccount(ctx context.Context, name, provider string, priority int) (int64, error)
	UpsertKey(ctx context.Context, accountID int64, plaintext string, dailyLimit int, model string, slot int) (int64, error)

	// Lookup
	GetKeyByID(ctx context.Context, keyID int64) (*models.Key, error)
	ListCandidates(ctx context.Context, provider string) ([]models.Key, error)
	ListActiveKeys(ctx context.Context) ([]models.Key, error)

	// ChargeUsage atomically adds amount to used_today, only when the key
	// is active and the result stays within daily_limit. Returns whether a
	// row was affected; zero rows is not an error.
	ChargeUsage(ctx context.Context, keyID int64, amount int) (bool, error)

	// SetStatus transitions a key's status. The disabled state is terminal
	// and guarded by the implementation: a disabled key is never moved.
	// blockedUntil is set for temporarily_blocked and cleared otherwise.
	SetStatus(ctx context.Context, keyID int64, status models.KeyStatus, blockedUntil *time.Time) (bool, error)

	// Failure accounting
	IncrementFailures(ctx context.Context, keyID int64) (int, error)
	ResetFailures(ctx context.Context, keyID int64) error

	// Scheduled maintenance
	ResetDaily(ctx context.Context) (int64, error)
	UnblockExpired(ctx context.Context, now time.Time) (int64, error)

	// Decrypt recovers the plaintext credential from a stored blob.
	Decrypt(encryptedBlob string) (string, error)
}
