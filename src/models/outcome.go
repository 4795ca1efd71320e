package models

import "fmt"

// Outcome classifies the result of one outbound call made with a selected
// credential, as reported back by the caller.
type Outcome string

const (
	// OutcomeSuccess indicates the call succeeded; consumed units are charged
	OutcomeSuccess Outcome = "success"
	// OutcomeExhausted indicates the provider rejected the call for quota reasons
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeTransientFailure indicates rate limiting or another recoverable failure
	OutcomeTransientFailure Outcome = "transient_failure"
	// OutcomePermanentFailure indicates the key itself is bad (revoked, unauthorized)
	OutcomePermanentFailure Outcome = "permanent_failure"
)

// ParseOutcome validates a wire-format outcome string.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeSuccess, OutcomeExhausted, OutcomeTransientFailure, OutcomePermanentFailure:
		return Outcome(s), nil
	}
	return "", fmt.Errorf("unknown outcome %q", s)
}

// Credential is the ephemeral selection result handed to a caller for
// exactly one logical outbound call. It carries the decrypted key material
// and is never persisted.
type Credential struct {
	Key       Key
	Plaintext string
	Model     string
}
