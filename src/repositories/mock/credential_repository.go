package mock

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/quizforge/credpool/src/models"
	"github.com/quizforge/credpool/src/repositories"
)

// CredentialRepository is an in-memory implementation of
// repositories.CredentialRepository. Defaults behave like the real store
// (conditional charge, terminal disabled state, failure counters), so
// tests can drive full scenarios without a database. Any method can still
// be overridden with a Func stub.
type CredentialRepository struct {
	mu sync.Mutex

	accounts map[int64]*models.Account
	keys     map[int64]*models.Key
	nextID   int64

	// Function stubs that can be overridden in tests
	ChargeUsageFunc    func(ctx context.Context, keyID int64, amount int) (bool, error)
	SetStatusFunc      func(ctx context.Context, keyID int64, status models.KeyStatus, blockedUntil *time.Time) (bool, error)
	ListCandidatesFunc func(ctx context.Context, provider string) ([]models.Key, error)
	DecryptFunc        func(encryptedBlob string) (string, error)

	// Call tracking
	Calls map[string][]interface{}
}

// NewCredentialRepository creates a new mock credential repository
func NewCredentialRepository() *CredentialRepository {
	return &CredentialRepository{
		accounts: make(map[int64]*models.Account),
		keys:     make(map[int64]*models.Key),
		Calls:    make(map[string][]interface{}),
	}
}

// AddAccount seeds an account and returns its ID.
func (m *CredentialRepository) AddAccount(name, provider string, priority int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.accounts[m.nextID] = &models.Account{
		ID:       m.nextID,
		Name:     name,
		Provider: provider,
		Priority: priority,
		Status:   models.AccountStatusActive,
	}
	return m.nextID
}

// AddKey seeds an active key and returns its ID. The plaintext is stored
// base64-encoded, matching what Decrypt reverses.
func (m *CredentialRepository) AddKey(accountID int64, plaintext string, dailyLimit, slot int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	sum := sha256.Sum256([]byte(plaintext))
	k := &models.Key{
		ID:            m.nextID,
		AccountID:     accountID,
		Slot:          slot,
		KeyHash:       hex.EncodeToString(sum[:]),
		EncryptedBlob: base64.StdEncoding.EncodeToString([]byte(plaintext)),
		DailyLimit:    dailyLimit,
		Status:        models.KeyStatusActive,
		CreatedAt:     time.Now(),
	}
	if acct, ok := m.accounts[accountID]; ok {
		k.AccountName = acct.Name
		k.AccountPriority = acct.Priority
		k.Provider = acct.Provider
	}
	m.keys[m.nextID] = k
	return m.nextID
}

// Key returns a copy of the stored key for assertions.
func (m *CredentialRepository) Key(keyID int64) models.Key {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[keyID]; ok {
		return *k
	}
	return models.Key{}
}

func (m *CredentialRepository) UpsertAccount(ctx context.Context, name, provider string, priority int) (int64, error) {
	m.Calls["UpsertAccount"] = append(m.Calls["UpsertAccount"], name)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Name == name {
			a.Provider = provider
			a.Priority = priority
			return a.ID, nil
		}
	}
	m.nextID++
	m.accounts[m.nextID] = &models.Account{
		ID:       m.nextID,
		Name:     name,
		Provider: provider,
		Priority: priority,
		Status:   models.AccountStatusActive,
	}
	return m.nextID, nil
}

func (m *CredentialRepository) UpsertKey(ctx context.Context, accountID int64, plaintext string, dailyLimit int, model string, slot int) (int64, error) {
	m.Calls["UpsertKey"] = append(m.Calls["UpsertKey"], []interface{}{accountID, dailyLimit, model, slot})
	sum := sha256.Sum256([]byte(plaintext))
	hash := hex.EncodeToString(sum[:])
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.KeyHash == hash {
			return k.ID, nil
		}
	}
	m.nextID++
	k := &models.Key{
		ID:            m.nextID,
		AccountID:     accountID,
		Slot:          slot,
		KeyHash:       hash,
		EncryptedBlob: base64.StdEncoding.EncodeToString([]byte(plaintext)),
		Model:         model,
		DailyLimit:    dailyLimit,
		Status:        models.KeyStatusActive,
		CreatedAt:     time.Now(),
	}
	if acct, ok := m.accounts[accountID]; ok {
		k.AccountName = acct.Name
		k.AccountPriority = acct.Priority
		k.Provider = acct.Provider
	}
	m.keys[m.nextID] = k
	return m.nextID, nil
}

func (m *CredentialRepository) GetKeyByID(ctx context.Context, keyID int64) (*models.Key, error) {
	m.Calls["GetKeyByID"] = append(m.Calls["GetKeyByID"], keyID)
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyID]
	if !ok {
		return nil, nil
	}
	copy := *k
	return &copy, nil
}

func (m *CredentialRepository) ListCandidates(ctx context.Context, provider string) ([]models.Key, error) {
	m.Calls["ListCandidates"] = append(m.Calls["ListCandidates"], provider)
	if m.ListCandidatesFunc != nil {
		return m.ListCandidatesFunc(ctx, provider)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Key
	for _, k := range m.keys {
		if provider != "" && k.Provider != provider {
			continue
		}
		if k.Status != models.KeyStatusActive {
			continue
		}
		if k.UsedToday >= k.DailyLimit {
			continue
		}
		out = append(out, *k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountPriority != out[j].AccountPriority {
			return out[i].AccountPriority < out[j].AccountPriority
		}
		if out[i].UsedToday != out[j].UsedToday {
			return out[i].UsedToday < out[j].UsedToday
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *CredentialRepository) ListActiveKeys(ctx context.Context) ([]models.Key, error) {
	m.Calls["ListActiveKeys"] = append(m.Calls["ListActiveKeys"], nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Key
	for _, k := range m.keys {
		if k.Status == models.KeyStatusActive {
			out = append(out, *k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *CredentialRepository) ChargeUsage(ctx context.Context, keyID int64, amount int) (bool, error) {
	m.Calls["ChargeUsage"] = append(m.Calls["ChargeUsage"], []interface{}{keyID, amount})
	if m.ChargeUsageFunc != nil {
		return m.ChargeUsageFunc(ctx, keyID, amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyID]
	if !ok || k.Status != models.KeyStatusActive {
		return false, nil
	}
	if k.UsedToday+amount > k.DailyLimit {
		return false, nil
	}
	k.UsedToday += amount
	now := time.Now()
	k.LastUsedAt = &now
	return true, nil
}

func (m *CredentialRepository) SetStatus(ctx context.Context, keyID int64, status models.KeyStatus, blockedUntil *time.Time) (bool, error) {
	m.Calls["SetStatus"] = append(m.Calls["SetStatus"], []interface{}{keyID, status, blockedUntil})
	if m.SetStatusFunc != nil {
		return m.SetStatusFunc(ctx, keyID, status, blockedUntil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyID]
	if !ok || k.Status == models.KeyStatusDisabled {
		return false, nil
	}
	k.Status = status
	k.TemporaryBlockUntil = blockedUntil
	return true, nil
}

func (m *CredentialRepository) IncrementFailures(ctx context.Context, keyID int64) (int, error) {
	m.Calls["IncrementFailures"] = append(m.Calls["IncrementFailures"], keyID)
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyID]
	if !ok {
		return 0, nil
	}
	k.ConsecutiveFailures++
	return k.ConsecutiveFailures, nil
}

func (m *CredentialRepository) ResetFailures(ctx context.Context, keyID int64) error {
	m.Calls["ResetFailures"] = append(m.Calls["ResetFailures"], keyID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[keyID]; ok {
		k.ConsecutiveFailures = 0
	}
	return nil
}

func (m *CredentialRepository) ResetDaily(ctx context.Context) (int64, error) {
	m.Calls["ResetDaily"] = append(m.Calls["ResetDaily"], nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for _, k := range m.keys {
		if k.Status == models.KeyStatusDisabled {
			continue
		}
		k.UsedToday = 0
		k.LastResetAt = &now
		if k.Status == models.KeyStatusExhausted {
			k.Status = models.KeyStatusActive
		}
		n++
	}
	return n, nil
}

func (m *CredentialRepository) UnblockExpired(ctx context.Context, now time.Time) (int64, error) {
	m.Calls["UnblockExpired"] = append(m.Calls["UnblockExpired"], now)
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range m.keys {
		if k.Status != models.KeyStatusTemporarilyBlocked {
			continue
		}
		if k.TemporaryBlockUntil != nil && k.TemporaryBlockUntil.After(now) {
			continue
		}
		k.Status = models.KeyStatusActive
		k.TemporaryBlockUntil = nil
		k.ConsecutiveFailures = 0
		n++
	}
	return n, nil
}

func (m *CredentialRepository) Decrypt(encryptedBlob string) (string, error) {
	m.Calls["Decrypt"] = append(m.Calls["Decrypt"], encryptedBlob)
	if m.DecryptFunc != nil {
		return m.DecryptFunc(encryptedBlob)
	}
	data, err := base64.StdEncoding.DecodeString(encryptedBlob)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Ensure CredentialRepository implements the interface
var _ repositories.CredentialRepository = (*CredentialRepository)(nil)
