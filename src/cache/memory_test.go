package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_MarkAndRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	marked, err := s.IsMarkedUnusable(ctx, "fp-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if marked {
		t.Fatal("fresh store should have no marks")
	}

	if err := s.MarkUnusable(ctx, "fp-a", time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	marked, err = s.IsMarkedUnusable(ctx, "fp-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !marked {
		t.Fatal("expected mark to be visible")
	}

	// Other fingerprints are untouched
	marked, _ = s.IsMarkedUnusable(ctx, "fp-b")
	if marked {
		t.Fatal("unrelated fingerprint should not be marked")
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	if err := s.MarkUnusable(ctx, "fp-a", 10*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	at = at.Add(9 * time.Minute)
	marked, _ := s.IsMarkedUnusable(ctx, "fp-a")
	if !marked {
		t.Fatal("mark should survive within the TTL")
	}

	at = at.Add(2 * time.Minute)
	marked, _ = s.IsMarkedUnusable(ctx, "fp-a")
	if marked {
		t.Fatal("mark should lapse after the TTL")
	}

	// Lazy expiry dropped the entry
	s.mu.Lock()
	_, present := s.entries["fp-a"]
	s.mu.Unlock()
	if present {
		t.Fatal("expired entry should be removed on read")
	}
}

func TestMemoryStore_RemarkExtends(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	if err := s.MarkUnusable(ctx, "fp-a", 10*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	at = at.Add(8 * time.Minute)
	if err := s.MarkUnusable(ctx, "fp-a", 10*time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	at = at.Add(9 * time.Minute)
	marked, _ := s.IsMarkedUnusable(ctx, "fp-a")
	if !marked {
		t.Fatal("re-marking should extend the TTL")
	}
}

func TestMemoryStore_ClearAll(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.MarkUnusable(ctx, "fp-a", time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.MarkUnusable(ctx, "fp-b", time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, fp := range []string{"fp-a", "fp-b"} {
		marked, _ := s.IsMarkedUnusable(ctx, fp)
		if marked {
			t.Fatalf("expected %s cleared", fp)
		}
	}
}
