package services

import "errors"

// Sentinel errors for explicit error handling. Callers distinguish
// failure modes with errors.Is() instead of string matching.

var (
	// ErrStoreUnavailable indicates the credential store backend is
	// unreachable. Always surfaced, never silently swallowed.
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// ErrNoneAvailable indicates no usable credential exists for the
	// requested provider. A legitimate outcome, not a transient error.
	ErrNoneAvailable = errors.New("no credential available")

	// ErrDecryption indicates a stored blob could not be decrypted
	ErrDecryption = errors.New("decryption failed")

	// ErrKeyNotFound indicates the requested key does not exist
	ErrKeyNotFound = errors.New("key not found")

	// ErrAccountNotFound indicates the requested account does not exist
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidCredentials indicates admin authentication failed
	ErrInvalidCredentials = errors.New("invalid credentials")
)
