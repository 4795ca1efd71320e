package services

import (
	"context"
	"testing"
	"time"

	"github.com/quizforge/credpool/src/models"
	"github.com/quizforge/credpool/src/repositories/mock"
)

func newTestBreaker(repo *mock.CredentialRepository, at time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker(repo, 3, 30*time.Minute)
	cb.now = func() time.Time { return at }
	return cb
}

func TestCircuitBreaker_TransientFailureBlocks(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewCredentialRepository()
	acct := repo.AddAccount("acct-a", "openai", 1)
	keyID := repo.AddKey(acct, "sk-a", 100, 1)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cb := newTestBreaker(repo, now)
	if err := cb.RecordFailure(ctx, keyID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	k := repo.Key(keyID)
	if k.Status != models.KeyStatusTemporarilyBlocked {
		t.Fatalf("expected temporarily_blocked, got %s", k.Status)
	}
	if k.TemporaryBlockUntil == nil || !k.TemporaryBlockUntil.Equal(now.Add(30*time.Minute)) {
		t.Fatalf("expected block until %v, got %v", now.Add(30*time.Minute), k.TemporaryBlockUntil)
	}
	if k.ConsecutiveFailures != 1 {
		t.Fatalf("expected 1 failure, got %d", k.ConsecutiveFailures)
	}
}

func TestCircuitBreaker_NonTransientFailureBelowThresholdKeepsActive(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewCredentialRepository()
	acct := repo.AddAccount("acct-a", "openai", 1)
	keyID := repo.AddKey(acct, "sk-a", 100, 1)

	cb := newTestBreaker(repo, time.Now())
	if err := cb.RecordFailure(ctx, keyID, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	k := repo.Key(keyID)
	if k.Status != models.KeyStatusActive {
		t.Fatalf("a single hard failure below the threshold must not block, got %s", k.Status)
	}
	if k.ConsecutiveFailures != 1 {
		t.Fatalf("expected 1 failure, got %d", k.ConsecutiveFailures)
	}
}

func TestCircuitBreaker_ThresholdDisablesPermanently(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewCredentialRepository()
	acct := repo.AddAccount("acct-a", "openai", 1)
	keyID := repo.AddKey(acct, "sk-a", 100, 1)

	cb := newTestBreaker(repo, time.Now())
	for i := 0; i < 3; i++ {
		if err := cb.RecordFailure(ctx, keyID, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := repo.Key(keyID).Status; got != models.KeyStatusDisabled {
		t.Fatalf("expected disabled at the third failure, got %s", got)
	}

	// The daily rollover never revives a disabled key
	if _, err := repo.ResetDaily(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.Key(keyID).Status; got != models.KeyStatusDisabled {
		t.Fatalf("disabled is terminal, got %s", got)
	}
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewCredentialRepository()
	acct := repo.AddAccount("acct-a", "openai", 1)
	keyID := repo.AddKey(acct, "sk-a", 100, 1)

	cb := newTestBreaker(repo, time.Now())
	if err := cb.RecordFailure(ctx, keyID, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cb.RecordFailure(ctx, keyID, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cb.RecordSuccess(ctx, keyID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Two more failures stay below the threshold after the reset
	if err := cb.RecordFailure(ctx, keyID, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cb.RecordFailure(ctx, keyID, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	k := repo.Key(keyID)
	if k.Status == models.KeyStatusDisabled {
		t.Fatal("success must reset the consecutive failure counter")
	}
	if k.ConsecutiveFailures != 2 {
		t.Fatalf("expected 2 failures after reset, got %d", k.ConsecutiveFailures)
	}
}

func TestCircuitBreaker_SweepExpiredBlocks(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewCredentialRepository()
	acct := repo.AddAccount("acct-a", "openai", 1)
	keyID := repo.AddKey(acct, "sk-a", 100, 1)
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cb := NewCircuitBreaker(repo, 3, 10*time.Second)
	at := start
	cb.now = func() time.Time { return at }

	if err := cb.RecordFailure(ctx, keyID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.Key(keyID).Status; got != models.KeyStatusTemporarilyBlocked {
		t.Fatalf("expected temporarily_blocked, got %s", got)
	}

	// Before expiry the sweep is a no-op
	at = start.Add(5 * time.Second)
	n, err := cb.SweepExpiredBlocks(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no keys unblocked at +5s, got %d", n)
	}

	// After expiry the key returns to active with a clean counter
	at = start.Add(11 * time.Second)
	n, err = cb.SweepExpiredBlocks(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 key unblocked at +11s, got %d", n)
	}

	k := repo.Key(keyID)
	if k.Status != models.KeyStatusActive {
		t.Fatalf("expected active after sweep, got %s", k.Status)
	}
	if k.ConsecutiveFailures != 0 {
		t.Fatalf("expected failures cleared by sweep, got %d", k.ConsecutiveFailures)
	}
	if k.TemporaryBlockUntil != nil {
		t.Fatal("expected block timestamp cleared")
	}

	// Sweeping again finds nothing
	n, err = cb.SweepExpiredBlocks(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("sweep must be idempotent, got %d", n)
	}
}

func TestCircuitBreaker_UnknownKeyIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := mock.NewCredentialRepository()

	cb := newTestBreaker(repo, time.Now())
	if err := cb.RecordFailure(ctx, 404, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.Calls["SetStatus"]) != 0 {
		t.Fatal("no status transition expected for an unknown key")
	}
}
