// Package synerr defines syncmesh's transport-agnostic error taxonomy (§7).
//
// Every kind implements error and IsRetryable, which the job queue (§4.J)
// consults to decide whether a failed execution should be retried.
package synerr

import "errors"

// ErrNotFound is returned by storage lookups for a missing row.
var ErrNotFound = errors.New("not found")

// ErrConflictRow indicates a unique constraint violation, e.g. a duplicate
// SyncedItem identity pair.
var ErrConflictRow = errors.New("conflict")

// ConfigurationError covers missing/invalid mappings, unknown connector
// kinds, unknown transformations, malformed cron expressions, and invalid
// sync filters. Never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Reason }
func (e *ConfigurationError) IsRetryable() bool { return false }

// CredentialDecryptError is raised when the crypto vault cannot authenticate
// stored ciphertext. Non-retryable; callers should prompt for re-entry.
type CredentialDecryptError struct {
	ConnectorID string
}

func (e *CredentialDecryptError) Error() string {
	return "credentials for connector " + e.ConnectorID + " could not be decrypted; re-enter credentials"
}
func (e *CredentialDecryptError) IsRetryable() bool { return false }

// RemoteAuthError covers a connector reporting 401/403. Non-retryable.
// The sync engine records it like any other per-item error; the remaining
// items of the same execution still call that driver.
type RemoteAuthError struct {
	ConnectorID string
	Detail      string
}

func (e *RemoteAuthError) Error() string {
	return "remote auth failed for connector " + e.ConnectorID + ": " + e.Detail
}
func (e *RemoteAuthError) IsRetryable() bool { return false }

// RemoteTransient covers network errors, 5xx, and rate limiting. Retryable
// with backoff at the job level; within an execution it is a per-item error.
type RemoteTransient struct {
	Detail string
}

func (e *RemoteTransient) Error() string      { return "transient remote error: " + e.Detail }
func (e *RemoteTransient) IsRetryable() bool  { return true }

// ItemNotFound is raised when an explicitly requested work item id is missing.
type ItemNotFound struct {
	ItemID string
}

func (e *ItemNotFound) Error() string     { return "work item not found: " + e.ItemID }
func (e *ItemNotFound) IsRetryable() bool { return false }

// ConflictRequiresManual is not a failure to the engine: the conflict row
// persists unresolved and counts are incremented.
type ConflictRequiresManual struct {
	ConflictID string
}

func (e *ConflictRequiresManual) Error() string {
	return "conflict " + e.ConflictID + " requires manual resolution"
}
func (e *ConflictRequiresManual) IsRetryable() bool { return false }

// ExecutionFailure covers engine-internal invariant violations. Marks the
// execution failed and re-raises to the job so retry policy applies.
type ExecutionFailure struct {
	Reason string
}

func (e *ExecutionFailure) Error() string     { return "execution failure: " + e.Reason }
func (e *ExecutionFailure) IsRetryable() bool { return true }

// TransformUnknown is raised by the transformations library when a named
// transform (or chain step) is not registered.
type TransformUnknown struct {
	Name string
}

func (e *TransformUnknown) Error() string     { return "unknown transformation: " + e.Name }
func (e *TransformUnknown) IsRetryable() bool { return false }

// NotSupported is returned by connector operations whose capability is
// advertised false by capabilities().
type NotSupported struct {
	Connector string
	Operation string
}

func (e *NotSupported) Error() string {
	return e.Connector + " does not support " + e.Operation
}
func (e *NotSupported) IsRetryable() bool { return false }

// ErrQueueFull is returned by the job queue when backpressure triggers (§4.J).
// Non-retryable for callers.
var ErrQueueFull = errors.New("job queue full")

// ErrCancelled is returned by a sync pass when it aborts between item
// iterations because the job's cancellation flag was set (§5 "Cancellation
// & timeouts"). Never retried.
var ErrCancelled = errors.New("cancelled")

// Retryable reports whether err carries an IsRetryable() bool method that
// returns true. Plain errors (not one of the kinds above) are treated as
// non-retryable by default — only explicitly tagged transient errors retry.
func Retryable(err error) bool {
	type retryabler interface{ IsRetryable() bool }
	var r retryabler
	if errorsAs(err, &r) {
		return r.IsRetryable()
	}
	return false
}

func errorsAs(err error, target interface{}) bool {
	return errors.As(err, target)
}
