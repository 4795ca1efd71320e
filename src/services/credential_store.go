package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/quizforge/credpool/src/logging"
	"github.com/quizforge/credpool/src/models"
)

// keyColumns is the joined column list every key query scans.
const keyColumns = `
	k.id, k.account_id, k.slot, k.key_hash, k.encrypted_blob, k.model,
	k.daily_limit, k.used_today, k.status, k.consecutive_failures,
	k.temporary_block_until, k.last_used_at, k.last_reset_at, k.created_at,
	a.name, a.priority, a.provider`

// CredentialStore is the durable home of accounts and keys. It owns all
// SQL touching the two tables and the encryption of key material at rest.
// All mutation is field-scoped so concurrent components never overwrite a
// row based on a stale read.
type CredentialStore struct {
	pool   *pgxpool.Pool
	cipher *Cipher
	log    zerolog.Logger
}

// NewCredentialStore creates a credential store. A nil cipher means
// encryption at rest is disabled; this is allowed but loudly flagged
// because key material is then only base64-encoded in the database.
func NewCredentialStore(pool *pgxpool.Pool, cipher *Cipher) *CredentialStore {
	s := &CredentialStore{
		pool:   pool,
		cipher: cipher,
		log:    logging.NewLogger("credential_store"),
	}
	if !cipher.Enabled() {
		s.log.Warn().Msg("NO ENCRYPTION KEY CONFIGURED: credentials are stored base64-encoded only; set ENCRYPTION_KEY for at-rest encryption")
	}
	return s
}

// Fingerprint computes the irreversible hash of a plaintext credential,
// used for duplicate detection and as the exhaustion cache key.
func Fingerprint(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// UpsertAccount creates an account or updates provider/priority of the
// existing one. Idempotent by name.
func (s *CredentialStore) UpsertAccount(ctx context.Context, name, provider string, priority int) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (name, provider, priority, status)
		VALUES ($1, $2, $3, 'active')
		ON CONFLICT (name) DO UPDATE SET provider = EXCLUDED.provider, priority = EXCLUDED.priority
		RETURNING id
	`, name, provider, priority).Scan(&id)
	if err != nil {
		return 0, storeErr("upsert account", err)
	}
	return id, nil
}

// UpsertKey registers a credential under an account. If a key with the
// same fingerprint already exists the call is a no-op returning the
// existing id; a credential is never stored twice.
func (s *CredentialStore) UpsertKey(ctx context.Context, accountID int64, plaintext string, dailyLimit int, model string, slot int) (int64, error) {
	hash := Fingerprint(plaintext)

	blob, err := s.cipher.Seal(plaintext)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt credential: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO api_keys (account_id, slot, key_hash, encrypted_blob, model, daily_limit, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'active')
		ON CONFLICT (key_hash) DO NOTHING
		RETURNING id
	`, accountID, slot, hash, blob, model, dailyLimit).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Fingerprint already present; return the existing key
		err = s.pool.QueryRow(ctx, `SELECT id FROM api_keys WHERE key_hash = $1`, hash).Scan(&id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
		return 0, fmt.Errorf("account %d: %w", accountID, ErrAccountNotFound)
	}
	if err != nil {
		return 0, storeErr("upsert key", err)
	}
	return id, nil
}

// GetKeyByID fetches a single key with its owning account joined.
func (s *CredentialStore) GetKeyByID(ctx context.Context, keyID int64) (*models.Key, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys k JOIN accounts a ON a.id = k.account_id
		WHERE k.id = $1
	`, keyID)

	k, err := scanKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, storeErr("get key", err)
	}
	return k, nil
}

// ListCandidates returns the active keys of active accounts for a
// provider, ordered by account priority, then ascending used_today, then
// ascending last_used_at with never-used keys first.
func (s *CredentialStore) ListCandidates(ctx context.Context, provider string) ([]models.Key, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys k JOIN accounts a ON a.id = k.account_id
		WHERE a.provider = $1 AND a.status = 'active' AND k.status = 'active'
		ORDER BY a.priority, k.used_today, k.last_used_at ASC NULLS FIRST, k.id
	`, provider)
	if err != nil {
		return nil, storeErr("list candidates", err)
	}
	defer rows.Close()

	return collectKeys(rows, "list candidates")
}

// ListActiveKeys returns every active key across all providers, used by
// the health monitor.
func (s *CredentialStore) ListActiveKeys(ctx context.Context) ([]models.Key, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys k JOIN accounts a ON a.id = k.account_id
		WHERE k.status = 'active'
		ORDER BY k.id
	`)
	if err != nil {
		return nil, storeErr("list active keys", err)
	}
	defer rows.Close()

	return collectKeys(rows, "list active keys")
}

// ListKeys returns all keys regardless of status, for the admin surface.
func (s *CredentialStore) ListKeys(ctx context.Context) ([]models.Key, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys k JOIN accounts a ON a.id = k.account_id
		ORDER BY a.priority, k.slot, k.id
	`)
	if err != nil {
		return nil, storeErr("list keys", err)
	}
	defer rows.Close()

	return collectKeys(rows, "list keys")
}

// ListAccounts returns all accounts ordered by priority.
func (s *CredentialStore) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, provider, priority, status, daily_quota, created_at
		FROM accounts ORDER BY priority, id
	`)
	if err != nil {
		return nil, storeErr("list accounts", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Provider, &a.Priority, &a.Status, &a.DailyQuota, &a.CreatedAt); err != nil {
			return nil, storeErr("scan account", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list accounts", err)
	}
	return accounts, nil
}

// ChargeUsage atomically adds amount to used_today. The condition is the
// single source of truth for quota enforcement: the update applies only
// when the key is active and the result stays within daily_limit.
func (s *CredentialStore) ChargeUsage(ctx context.Context, keyID int64, amount int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_keys
		SET used_today = used_today + $2, last_used_at = NOW()
		WHERE id = $1 AND status = 'active' AND used_today + $2 <= daily_limit
	`, keyID, amount)
	if err != nil {
		return false, storeErr("charge usage", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetStatus transitions a key's status. Disabled is terminal: the WHERE
// clause refuses to move a disabled key anywhere, ever.
func (s *CredentialStore) SetStatus(ctx context.Context, keyID int64, status models.KeyStatus, blockedUntil *time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_keys
		SET status = $2, temporary_block_until = $3
		WHERE id = $1 AND status <> 'disabled'
	`, keyID, string(status), blockedUntil)
	if err != nil {
		return false, storeErr("set status", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementFailures bumps the consecutive failure counter and returns the
// new value. Returns 0 when the key is missing or disabled; that is not
// an error.
func (s *CredentialStore) IncrementFailures(ctx context.Context, keyID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		UPDATE api_keys
		SET consecutive_failures = consecutive_failures + 1
		WHERE id = $1 AND status <> 'disabled'
		RETURNING consecutive_failures
	`, keyID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("increment failures", err)
	}
	return n, nil
}

// ResetFailures clears the consecutive failure counter.
func (s *CredentialStore) ResetFailures(ctx context.Context, keyID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE api_keys SET consecutive_failures = 0
		WHERE id = $1 AND status <> 'disabled'
	`, keyID)
	if err != nil {
		return storeErr("reset failures", err)
	}
	return nil
}

// ResetDaily is the daily rollover: usage back to zero for every
// non-disabled key, exhausted keys returned to active. Idempotent.
func (s *CredentialStore) ResetDaily(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_keys
		SET used_today = 0,
		    last_reset_at = NOW(),
		    status = CASE WHEN status = 'exhausted' THEN 'active' ELSE status END
		WHERE status <> 'disabled'
	`)
	if err != nil {
		return 0, storeErr("reset daily", err)
	}
	return tag.RowsAffected(), nil
}

// UnblockExpired returns every key whose temporary block has lapsed to
// active with a clean failure counter. Safe to run concurrently.
func (s *CredentialStore) UnblockExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_keys
		SET status = 'active', consecutive_failures = 0, temporary_block_until = NULL
		WHERE status = 'temporarily_blocked' AND temporary_block_until <= $1
	`, now)
	if err != nil {
		return 0, storeErr("unblock expired", err)
	}
	return tag.RowsAffected(), nil
}

// ReenableKey is the explicit operator action that takes a disabled key
// back into rotation. Nothing inside the pool ever calls this.
func (s *CredentialStore) ReenableKey(ctx context.Context, keyID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE api_keys
		SET status = 'active', consecutive_failures = 0, temporary_block_until = NULL
		WHERE id = $1 AND status = 'disabled'
	`, keyID)
	if err != nil {
		return storeErr("reenable key", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Decrypt recovers the plaintext credential from a stored blob.
func (s *CredentialStore) Decrypt(encryptedBlob string) (string, error) {
	return s.cipher.Open(encryptedBlob)
}

// PoolStats is a per-status census of the key pool for the dashboard.
type PoolStats struct {
	Total     int64 `json:"total"`
	Active    int64 `json:"active"`
	Blocked   int64 `json:"temporarily_blocked"`
	Exhausted int64 `json:"exhausted"`
	Disabled  int64 `json:"disabled"`
	UsedToday int64 `json:"used_today"`
}

// Stats computes the pool census.
func (s *CredentialStore) Stats(ctx context.Context) (*PoolStats, error) {
	var st PoolStats
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COUNT(*) FILTER (WHERE status = 'temporarily_blocked'),
		       COUNT(*) FILTER (WHERE status = 'exhausted'),
		       COUNT(*) FILTER (WHERE status = 'disabled'),
		       COALESCE(SUM(used_today), 0)
		FROM api_keys
	`).Scan(&st.Total, &st.Active, &st.Blocked, &st.Exhausted, &st.Disabled, &st.UsedToday)
	if err != nil {
		return nil, storeErr("stats", err)
	}
	return &st, nil
}

func scanKey(row pgx.Row) (*models.Key, error) {
	var k models.Key
	err := row.Scan(
		&k.ID, &k.AccountID, &k.Slot, &k.KeyHash, &k.EncryptedBlob, &k.Model,
		&k.DailyLimit, &k.UsedToday, &k.Status, &k.ConsecutiveFailures,
		&k.TemporaryBlockUntil, &k.LastUsedAt, &k.LastResetAt, &k.CreatedAt,
		&k.AccountName, &k.AccountPriority, &k.Provider,
	)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func collectKeys(rows pgx.Rows, op string) ([]models.Key, error) {
	var keys []models.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		keys = append(keys, *k)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return keys, nil
}

// storeErr tags a backend failure as StoreUnavailable so callers can
// distinguish it from legitimate empty results with errors.Is.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}
