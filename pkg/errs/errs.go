// Package errs defines the typed error kinds surfaced by the mediator's
// public operations. Background loops never propagate these; foreground
// calls return them so callers can branch with errors.As.
package errs

import "fmt"

// ConfigError is a missing or invalid option at startup. Fatal.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Key, e.Reason)
}

// ValidationError means the input to a public operation violated a
// precondition. No state is mutated.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed in %s: %s", e.Op, e.Reason)
}

// ConflictError is a uniqueness violation (duplicate declaration, refused
// claim, already-immutable settlement). The operation is a no-op.
type ConflictError struct {
	Op     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict in %s: %s", e.Op, e.Reason)
}

// IntegrityError means a stored artifact failed hash recomputation on load.
// The file is quarantined and the entity treated as absent.
type IntegrityError struct {
	Path   string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity failure at %s: %s", e.Path, e.Reason)
}

// RemoteError is a failed chain or LLM call. Transient errors are retried
// with backoff; terminal errors surface as a failed operation.
type RemoteError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote call to %s failed: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("remote call to %s failed with status %d", e.Endpoint, e.Status)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying.
func (e *RemoteError) Transient() bool {
	if e.Err != nil && e.Status == 0 {
		return true // network-level failure
	}
	return e.Status >= 500 || e.Status == 429
}

// ClaimRefused means another mediator holds a live work claim over the
// canonical intent pair.
type ClaimRefused struct {
	Key    string
	Holder string
}

func (e *ClaimRefused) Error() string {
	return fmt.Sprintf("work claim on %s refused: held by %s", e.Key, e.Holder)
}

// InjectionRisk means LLM input matched a prompt-injection pattern. The
// input is sanitised and the author's attempt counter incremented.
type InjectionRisk struct {
	Author  string
	Pattern string
}

func (e *InjectionRisk) Error() string {
	return fmt.Sprintf("injection risk from %s: matched %q", e.Author, e.Pattern)
}
