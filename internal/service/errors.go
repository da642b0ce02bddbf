package service

import (
	"errors"
	"fmt"

	"orgo-sync-server/internal/domain"
)

var (
	// ErrValidation rejects a malformed sync invocation before any
	// session record is created.
	ErrValidation = errors.New("invalid sync request")

	// ErrSyncInProgress means another session holds the node's lease.
	// Retryable: the client should back off and try again.
	ErrSyncInProgress = errors.New("sync already in progress for this node")

	// ErrSessionFinished guards the one-shot terminal transition: a
	// completed or failed session never changes state again.
	ErrSessionFinished = errors.New("sync session already finished")

	// ErrConflictResolved guards the matching one-shot on conflicts.
	ErrConflictResolved = errors.New("conflict already resolved")

	ErrNodeRetired      = errors.New("node is retired")
	ErrEnrollmentDenied = errors.New("enrollment secret rejected")
)

// PayloadError marks a structurally invalid change payload. It aborts
// the whole session instead of producing a per-change outcome.
type PayloadError struct {
	Op  domain.ChangeOp
	Err error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.Op, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}
