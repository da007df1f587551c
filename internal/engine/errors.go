package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/enrolsync/internal/ir"
)

// SyncError is an error recorded during a run.
//
// Sync errors never abort the run. They are collected on the Run and
// decide, at the end, whether an operator is notified:
//   - CONNECTION: an external source was unreachable (adapter aborted)
//   - QUERY: a query against the SIS or the LMS failed
//   - SANITY_THRESHOLD_EXCEEDED: removals were refused or nothing was staged
//   - RESOLUTION_FAILURE: a required LMS lookup had no match
//   - CONFIGURATION_MISSING: a required setting was absent
type SyncError struct {
	// Kind identifies the error category.
	Kind ir.ErrorKind

	// Message is a human-readable description.
	Message string

	// Source names the adapter involved, if any.
	Source string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Source != "" {
		return fmt.Sprintf("%s: %s (source=%s)", e.Kind, msg, e.Source)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsKind returns true if err is a SyncError of the given kind.
// Uses errors.As to handle wrapped errors.
func IsKind(err error, kind ir.ErrorKind) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// IsBlocked returns true if err records a refused removal phase.
func IsBlocked(err error) bool {
	return IsKind(err, ir.KindSanityThresholdExceeded)
}

func newSyncError(kind ir.ErrorKind, source, message string, err error) *SyncError {
	return &SyncError{Kind: kind, Source: source, Message: message, Err: err}
}
