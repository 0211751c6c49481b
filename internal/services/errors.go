package services

import (
	"errors"
	"fmt"
)

// ErrAlreadyActive coalesces duplicate dispatches for the same essay.
var ErrAlreadyActive = errors.New("correction already in flight for essay")

// ValidationError rejects bad input at the submission boundary. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProviderError wraps a failed scoring-provider call. Fatal errors (4xx, auth)
// are not retried; the rest are retried with backoff up to a small bound.
type ProviderError struct {
	StatusCode int
	Fatal      bool
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("scoring provider http %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("scoring provider: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// InterpretationError means the provider response survived no strategy in the
// fallback chain. The attempt fails; a resubmission creates a fresh one.
type InterpretationError struct {
	Detail string
}

func (e *InterpretationError) Error() string {
	return "uninterpretable provider response: " + e.Detail
}

// ConsistencyError reports an invariant violation the guardian could not
// auto-repair.
type ConsistencyError struct {
	Kind   string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violation (%s): %s", e.Kind, e.Detail)
}
