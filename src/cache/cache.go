// Package cache implements the exhaustion cache: a cheap, possibly-stale,
// shared record of keys known to be currently unusable. It is an
// optimization, never a source of truth: a stale entry only delays reuse
// until its TTL lapses.
package cache

import (
	"context"
	"time"
)

// Store is the exhaustion cache contract. Entries are keyed by the key
// fingerprint (hash), never by plaintext material.
type Store interface {
	IsMarkedUnusable(ctx context.Context, fingerprint string) (bool, error)
	MarkUnusable(ctx context.Context, fingerprint string, ttl time.Duration) error
	// ClearAll drops every exhaustion mark. Invoked at the daily rollover
	// so yesterday's marks do not linger into the new quota period.
	ClearAll(ctx context.Context) error
}
