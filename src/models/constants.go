package models

// KeyStatus represents the lifecycle state of an API key.
type KeyStatus string

const (
	// KeyStatusActive indicates the key is usable for selection
	KeyStatusActive KeyStatus = "active"
	// KeyStatusTemporarilyBlocked indicates a transient failure put the key
	// on a timed block; it returns to active when the block expires
	KeyStatusTemporarilyBlocked KeyStatus = "temporarily_blocked"
	// KeyStatusExhausted indicates the key's daily quota is consumed;
	// it returns to active at the daily reset
	KeyStatusExhausted KeyStatus = "exhausted"
	// KeyStatusDisabled is terminal; only an operator can re-enable the key
	KeyStatusDisabled KeyStatus = "disabled"
)

// AccountStatus represents the activation status of a provider account.
type AccountStatus string

const (
	// AccountStatusActive indicates the account's keys participate in rotation
	AccountStatusActive AccountStatus = "active"
	// AccountStatusInactive indicates the account is excluded from rotation
	AccountStatusInactive AccountStatus = "inactive"
)
