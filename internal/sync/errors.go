package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrTransferFailure is matched by every per-file *TransferError.
	ErrTransferFailure = errors.New("transfer failed")
	// ErrCancelled ends a session whose context was cancelled.
	ErrCancelled = errors.New("sync cancelled")
	// ErrSessionInProgress is returned when the (peer, app) pair is already syncing.
	ErrSessionInProgress = errors.New("sync session already in progress")
	// ErrAppInactive is returned when the app is disabled or paused for the peer.
	ErrAppInactive = errors.New("app not enabled for peer")
)

// TransferError records one failed file action. The session continues after it.
type TransferError struct {
	Kind ActionKind
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Is matches ErrTransferFailure.
func (e *TransferError) Is(target error) bool {
	return target == ErrTransferFailure
}
