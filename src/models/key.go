package models

import "time"

// Key is one API credential belonging to an Account, with its own daily
// quota and health state. The plaintext credential is never stored on this
// struct; EncryptedBlob holds base64(iv || ciphertext) and KeyHash a
// SHA-256 fingerprint used for duplicate detection and cache keys.
type Key struct {
	ID                  int64      `json:"id"`
	AccountID           int64      `json:"account_id"`
	Slot                int        `json:"slot"`
	KeyHash             string     `json:"-"`
	EncryptedBlob       string     `json:"-"`
	Model               string     `json:"model"`
	DailyLimit          int        `json:"daily_limit"`
	UsedToday           int        `json:"used_today"`
	Status              KeyStatus  `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TemporaryBlockUntil *time.Time `json:"temporary_block_until,omitempty"`
	LastUsedAt          *time.Time `json:"last_used_at,omitempty"`
	LastResetAt         *time.Time `json:"last_reset_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`

	// Joined from the owning account by list queries.
	AccountName     string `json:"account_name,omitempty"`
	AccountPriority int    `json:"account_priority,omitempty"`
	Provider        string `json:"provider,omitempty"`
}

// Remaining returns the unspent portion of the key's daily budget.
func (k *Key) Remaining() int {
	if r := k.DailyLimit - k.UsedToday; r > 0 {
		return r
	}
	return 0
}

// IsActive returns true if the key is in the active state.
func (k *Key) IsActive() bool {
	return k.Status == KeyStatusActive
}

// HashSuffix returns the tail of the key fingerprint, safe for dashboards
// and logs.
func (k *Key) HashSuffix() string {
	if len(k.KeyHash) <= 8 {
		return k.KeyHash
	}
	return k.KeyHash[len(k.KeyHash)-8:]
}
