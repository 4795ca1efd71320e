package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quizforge/credpool/src/database"
	"github.com/quizforge/credpool/src/models"
)

// These tests need a running PostgreSQL (see scripts/test_schema.sql);
// they skip themselves when TEST_DATABASE_URL is unreachable.

func newPgStore(tdb *database.TestDB) *CredentialStore {
	cipher, _ := NewCipher(validHexKey())
	return NewCredentialStore(tdb.Pool, cipher)
}

func seedAccountAndKey(t *testing.T, store *CredentialStore, plaintext string, limit, slot int) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	acctID, err := store.UpsertAccount(ctx, "acct-"+plaintext, "openai", 1)
	if err != nil {
		t.Fatalf("upsert account: %v", err)
	}
	keyID, err := store.UpsertKey(ctx, acctID, plaintext, limit, "gpt-4o", slot)
	if err != nil {
		t.Fatalf("upsert key: %v", err)
	}
	return acctID, keyID
}

func TestCredentialStore_UpsertIdempotency(t *testing.T) {
	database.WithTestDB(t, func(tdb *database.TestDB) {
		ctx := context.Background()
		store := newPgStore(tdb)

		acctID, err := store.UpsertAccount(ctx, "acct-a", "openai", 1)
		if err != nil {
			t.Fatalf("upsert account: %v", err)
		}
		again, err := store.UpsertAccount(ctx, "acct-a", "openai", 2)
		if err != nil {
			t.Fatalf("second upsert: %v", err)
		}
		if acctID != again {
			t.Fatalf("same account name must keep its id: %d vs %d", acctID, again)
		}

		keyID, err := store.UpsertKey(ctx, acctID, "sk-test-1", 100, "gpt-4o", 1)
		if err != nil {
			t.Fatalf("upsert key: %v", err)
		}
		sameKey, err := store.UpsertKey(ctx, acctID, "sk-test-1", 100, "gpt-4o", 1)
		if err != nil {
			t.Fatalf("second upsert: %v", err)
		}
		if keyID != sameKey {
			t.Fatalf("same key material must keep its id: %d vs %d", keyID, sameKey)
		}
	})
}

func TestCredentialStore_EncryptedRoundTrip(t *testing.T) {
	database.WithTestDB(t, func(tdb *database.TestDB) {
		ctx := context.Background()
		store := newPgStore(tdb)

		_, keyID := seedAccountAndKey(t, store, "sk-secret-xyz", 100, 1)

		k, err := store.GetKeyByID(ctx, keyID)
		if err != nil {
			t.Fatalf("get key: %v", err)
		}
		if k.EncryptedBlob == "sk-secret-xyz" {
			t.Fatal("plaintext must not be stored")
		}

		plaintext, err := store.Decrypt(k.EncryptedBlob)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if plaintext != "sk-secret-xyz" {
			t.Fatalf("expected round trip, got %q", plaintext)
		}
	})
}

func TestCredentialStore_ChargeUsage(t *testing.T) {
	database.WithTestDB(t, func(tdb *database.TestDB) {
		ctx := context.Background()
		store := newPgStore(tdb)
		_, keyID := seedAccountAndKey(t, store, "sk-charge", 100, 1)

		ok, err := store.ChargeUsage(ctx, keyID, 60)
		if err != nil {
			t.Fatalf("charge: %v", err)
		}
		if !ok {
			t.Fatal("expected charge within budget to apply")
		}

		// The conditional update rejects the overflow atomically
		ok, err = store.ChargeUsage(ctx, keyID, 50)
		if err != nil {
			t.Fatalf("charge: %v", err)
		}
		if ok {
			t.Fatal("expected over-budget charge to be rejected")
		}

		k, err := store.GetKeyByID(ctx, keyID)
		if err != nil {
			t.Fatalf("get key: %v", err)
		}
		if k.UsedToday != 60 {
			t.Fatalf("rejected charge must not change usage, got %d", k.UsedToday)
		}
		if k.LastUsedAt == nil {
			t.Fatal("expected last_used_at set by the accepted charge")
		}
	})
}

func TestCredentialStore_DisabledIsTerminal(t *testing.T) {
	database.WithTestDB(t, func(tdb *database.TestDB) {
		ctx := context.Background()
		store := newPgStore(tdb)
		_, keyID := seedAccountAndKey(t, store, "sk-disable", 100, 1)

		moved, err := store.SetStatus(ctx, keyID, models.KeyStatusDisabled, nil)
		if err != nil {
			t.Fatalf("set status: %v", err)
		}
		if !moved {
			t.Fatal("expected transition to disabled")
		}

		// No transition leaves disabled except the operator re-enable
		moved, err = store.SetStatus(ctx, keyID, models.KeyStatusActive, nil)
		if err != nil {
			t.Fatalf("set status: %v", err)
		}
		if moved {
			t.Fatal("disabled must not be movable by SetStatus")
		}

		if _, err := store.ResetDaily(ctx); err != nil {
			t.Fatalf("reset daily: %v", err)
		}
		k, err := store.GetKeyByID(ctx, keyID)
		if err != nil {
			t.Fatalf("get key: %v", err)
		}
		if k.Status != models.KeyStatusDisabled {
			t.Fatalf("rollover must not revive disabled keys, got %s", k.Status)
		}

		if err := store.ReenableKey(ctx, keyID); err != nil {
			t.Fatalf("re-enable: %v", err)
		}
		k, _ = store.GetKeyByID(ctx, keyID)
		if k.Status != models.KeyStatusActive {
			t.Fatalf("expected active after operator re-enable, got %s", k.Status)
		}
	})
}

func TestCredentialStore_ReenableRequiresDisabled(t *testing.T) {
	database.WithTestDB(t, func(tdb *database.TestDB) {
		ctx := context.Background()
		store := newPgStore(tdb)
		_, keyID := seedAccountAndKey(t, store, "sk-active", 100, 1)

		err := store.ReenableKey(ctx, keyID)
		if !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("expected ErrKeyNotFound for a non-disabled key, got %v", err)
		}
	})
}

func TestCredentialStore_CandidateOrdering(t *testing.T) {
	database.WithTestDB(t, func(tdb *database.TestDB) {
		ctx := context.Background()
		store := newPgStore(tdb)

		primary, err := store.UpsertAccount(ctx, "acct-primary", "openai", 1)
		if err != nil {
			t.Fatalf("upsert account: %v", err)
		}
		backup, err := store.UpsertAccount(ctx, "acct-backup", "openai", 2)
		if err != nil {
			t.Fatalf("upsert account: %v", err)
		}
		otherProv, err := store.UpsertAccount(ctx, "acct-other", "anthropic", 1)
		if err != nil {
			t.Fatalf("upsert account: %v", err)
		}

		busyKey, err := store.UpsertKey(ctx, primary, "sk-busy", 100, "", 1)
		if err != nil {
			t.Fatalf("upsert key: %v", err)
		}
		idleKey, err := store.UpsertKey(ctx, primary, "sk-idle", 100, "", 2)
		if err != nil {
			t.Fatalf("upsert key: %v", err)
		}
		backupKey, err := store.UpsertKey(ctx, backup, "sk-backup", 100, "", 3)
		if err != nil {
			t.Fatalf("upsert key: %v", err)
		}
		if _, err := store.UpsertKey(ctx, otherProv, "sk-other", 100, "", 4); err != nil {
			t.Fatalf("upsert key: %v", err)
		}

		if _, err := store.ChargeUsage(ctx, busyKey, 40); err != nil {
			t.Fatalf("charge: %v", err)
		}

		keys, err := store.ListCandidates(ctx, "openai")
		if err != nil {
			t.Fatalf("list candidates: %v", err)
		}
		if len(keys) != 3 {
			t.Fatalf("expected 3 openai candidates, got %d", len(keys))
		}
		want := []int64{idleKey, busyKey, backupKey}
		for i, id := range want {
			if keys[i].ID != id {
				t.Fatalf("position %d: expected key %d, got %d", i, id, keys[i].ID)
			}
		}
		if keys[0].AccountName != "acct-primary" || keys[0].Provider != "openai" {
			t.Fatalf("expected joined account fields, got %q/%q", keys[0].AccountName, keys[0].Provider)
		}
	})
}

func TestCredentialStore_FailuresAndBlocks(t *testing.T) {
	database.WithTestDB(t, func(tdb *database.TestDB) {
		ctx := context.Background()
		store := newPgStore(tdb)
		_, keyID := seedAccountAndKey(t, store, "sk-flaky", 100, 1)

		n, err := store.IncrementFailures(ctx, keyID)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected counter 1, got %d", n)
		}

		until := time.Now().Add(30 * time.Minute).UTC()
		if _, err := store.SetStatus(ctx, keyID, models.KeyStatusTemporarilyBlocked, &until); err != nil {
			t.Fatalf("block: %v", err)
		}

		// Not yet expired
		unblocked, err := store.UnblockExpired(ctx, time.Now())
		if err != nil {
			t.Fatalf("unblock: %v", err)
		}
		if unblocked != 0 {
			t.Fatalf("expected no keys unblocked before expiry, got %d", unblocked)
		}

		unblocked, err = store.UnblockExpired(ctx, until.Add(time.Second))
		if err != nil {
			t.Fatalf("unblock: %v", err)
		}
		if unblocked != 1 {
			t.Fatalf("expected 1 key unblocked, got %d", unblocked)
		}

		k, err := store.GetKeyByID(ctx, keyID)
		if err != nil {
			t.Fatalf("get key: %v", err)
		}
		if k.Status != models.KeyStatusActive {
			t.Fatalf("expected active after unblock, got %s", k.Status)
		}
		if k.ConsecutiveFailures != 0 {
			t.Fatalf("expected failures cleared by unblock, got %d", k.ConsecutiveFailures)
		}
	})
}

func TestCredentialStore_Stats(t *testing.T) {
	database.WithTestDB(t, func(tdb *database.TestDB) {
		ctx := context.Background()
		store := newPgStore(tdb)

		acctID, err := store.UpsertAccount(ctx, "acct-stats", "openai", 1)
		if err != nil {
			t.Fatalf("upsert account: %v", err)
		}
		activeKey, err := store.UpsertKey(ctx, acctID, "sk-one", 100, "", 1)
		if err != nil {
			t.Fatalf("upsert key: %v", err)
		}
		exhaustedKey, err := store.UpsertKey(ctx, acctID, "sk-two", 100, "", 2)
		if err != nil {
			t.Fatalf("upsert key: %v", err)
		}
		_ = activeKey

		if _, err := store.SetStatus(ctx, exhaustedKey, models.KeyStatusExhausted, nil); err != nil {
			t.Fatalf("set status: %v", err)
		}

		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Total != 2 {
			t.Fatalf("expected 2 keys, got %d", stats.Total)
		}
		if stats.Active != 1 || stats.Exhausted != 1 {
			t.Fatalf("unexpected counts: %+v", stats)
		}
	})
}
