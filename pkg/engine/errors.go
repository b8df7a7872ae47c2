package engine

import "fmt"

// ValidationError rejects an event before any mutation: bad shape,
// unknown token, unknown event type, unclassifiable action.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("validation: %v", e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

// StateConflictError rejects an event that is valid in shape but
// illegal in the identity's current lifecycle state. Nothing was
// applied.
type StateConflictError struct {
	IdentityID string
	Err        error
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict on %s: %v", e.IdentityID, e.Err)
}
func (e *StateConflictError) Unwrap() error { return e.Err }

// DependencyError signals an unavailable backing service. The event
// was not applied and is safe to retry with the same event_id.
type DependencyError struct {
	Err error
}

func (e *DependencyError) Error() string { return fmt.Sprintf("dependency: %v", e.Err) }
func (e *DependencyError) Unwrap() error { return e.Err }

// RateLimitedError rejects an event at ingestion before validation.
type RateLimitedError struct {
	Source string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for source %q", e.Source)
}

// ClassificationFallbackWarning is non-fatal: a default zero-delta
// classification was applied and processing continued.
type ClassificationFallbackWarning struct {
	EventID string
	Reason  string
}

func (w *ClassificationFallbackWarning) Error() string {
	return fmt.Sprintf("classification fallback for event %s: %s", w.EventID, w.Reason)
}
