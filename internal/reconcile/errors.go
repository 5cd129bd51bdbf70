package reconcile

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by operations issued after the event loop exited.
var ErrStopped = errors.New("reconcile: engine stopped")

// SyncError is a transient failure talking to the remote store.
//
// Sync errors are never fatal: the local tally stays usable and the
// engine reports StateError until the next successful write.
type SyncError struct {
	// Code identifies the failed operation.
	Code SyncErrorCode

	// ActorID is the engine's actor id.
	ActorID string

	// Err is the underlying remote error.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeWriteFailed indicates a debounced flush could not be written.
	ErrCodeWriteFailed SyncErrorCode = "WRITE_FAILED"

	// ErrCodeReadFailed indicates the initial sheet could not be read.
	ErrCodeReadFailed SyncErrorCode = "READ_FAILED"

	// ErrCodeResetFailed indicates a reset could not be written.
	ErrCodeResetFailed SyncErrorCode = "RESET_FAILED"

	// ErrCodeSubscribeFailed indicates the change feed could not be opened.
	ErrCodeSubscribeFailed SyncErrorCode = "SUBSCRIBE_FAILED"
)

func (e *SyncError) Error() string {
	if e.ActorID != "" {
		return fmt.Sprintf("%s (actor=%s): %v", e.Code, e.ActorID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// IsSyncError returns true if err wraps a SyncError.
func IsSyncError(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}

func newSyncError(code SyncErrorCode, actorID string, err error) *SyncError {
	return &SyncError{Code: code, ActorID: actorID, Err: err}
}
