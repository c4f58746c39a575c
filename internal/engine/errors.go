package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/rxvault/internal/model"
)

// SyncErrorCode categorizes sync failures.
type SyncErrorCode string

const (
	// ErrCodeSyncUnavailable: the mirror could not be reached or refused
	// the session. Non-fatal; the store keeps working offline.
	ErrCodeSyncUnavailable SyncErrorCode = "SYNC_UNAVAILABLE"

	// ErrCodeRemoteRejected: a change crossing the sync boundary broke an
	// invariant on the receiving side and was discarded.
	ErrCodeRemoteRejected SyncErrorCode = "REMOTE_REJECTED"
)

// SyncError describes a sync failure. It is logged and published on
// Events; foreground callers never receive one.
type SyncError struct {
	Code       SyncErrorCode
	Op         string
	Collection model.Collection
	ID         string
	Err        error
}

func (e *SyncError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("%s: %s %s/%s: %v", e.Code, e.Op, e.Collection, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsSyncUnavailable reports whether err is a SYNC_UNAVAILABLE SyncError.
func IsSyncUnavailable(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == ErrCodeSyncUnavailable
}

// IsRemoteRejected reports whether err is a REMOTE_REJECTED SyncError.
func IsRemoteRejected(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == ErrCodeRemoteRejected
}

func unavailable(op string, err error) *SyncError {
	return &SyncError{Code: ErrCodeSyncUnavailable, Op: op, Err: err}
}

func rejected(op string, c model.Collection, id string, err error) *SyncError {
	return &SyncError{Code: ErrCodeRemoteRejected, Op: op, Collection: c, ID: id, Err: err}
}
