/*
errors.go - Centralized error types for the report lifecycle

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (API, scheduler) classify errors with errors.Is / errors.As and
  the helpers at the bottom of this file.

ERROR CATEGORIES:
  1. Client errors - invalid prefix, malformed ID, attempt to edit a synced report
  2. Remote errors - counter/history fetch or submission failed (advisory)
  3. Invariant violations - duplicate synced IDs; fatal to local state

SEE ALSO:
  - reconcile.go: Detects duplicate IDs
  - lifecycle.go: Wraps submission failures in SubmitError
*/
package fieldreport

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrReportNotFound is returned when no report matches an ID or key.
	ErrReportNotFound = errors.New("report not found")

	// ErrReportSynced is returned when a write would modify a synced report.
	ErrReportSynced = errors.New("report already synced")

	// ErrInvalidPrefix is returned for prefixes that aren't 1-2 letters/digits.
	ErrInvalidPrefix = errors.New("invalid prefix")

	// ErrInvalidID is returned when an identifier can't be parsed.
	ErrInvalidID = errors.New("invalid report id")

	// ErrInvalidFloor is returned when a remote counter value is negative.
	ErrInvalidFloor = errors.New("invalid counter floor")

	// ErrDuplicateID signals two synced reports sharing an identifier.
	// This is a programming defect, never a runtime condition to recover from.
	ErrDuplicateID = errors.New("duplicate report id")

	// ErrRemoteUnavailable is returned when the remote backend failed or
	// returned no data. Local state is left untouched.
	ErrRemoteUnavailable = errors.New("remote backend unavailable")

	// ErrSubmitFailed is returned when the remote backend rejected a report.
	ErrSubmitFailed = errors.New("report submission failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateIDError identifies the colliding identifier.
type DuplicateIDError struct {
	ID   string
	Year int
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate synced report id %s (year %d)", e.ID, e.Year)
}

func (e *DuplicateIDError) Unwrap() error {
	return ErrDuplicateID
}

// SubmitError reports a failed submission. The report stays a draft under
// ReportID and can be retried.
type SubmitError struct {
	ReportID string
	Err      error
}

func (e *SubmitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("submit %s: rejected by backend", e.ReportID)
	}
	return fmt.Sprintf("submit %s: %v", e.ReportID, e.Err)
}

func (e *SubmitError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSubmitFailed}
	}
	return []error{ErrSubmitFailed, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable) ||
		errors.Is(err, ErrSubmitFailed)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPrefix) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidFloor) ||
		errors.Is(err, ErrReportSynced)
}

// IsInvariantViolation returns true if local state is inconsistent.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrDuplicateID)
}
