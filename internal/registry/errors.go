package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence is matched by every *PersistenceError.
	ErrPersistence = errors.New("registry persistence failed")
	// ErrPeerNotFound is returned for unknown peer ids.
	ErrPeerNotFound = errors.New("peer not found")
	// ErrPeerExists is returned when adding a peer whose id is taken.
	ErrPeerExists = errors.New("peer already exists")
)

// PersistenceError reports a failed store write. The in-memory state was rolled
// back to the last committed snapshot.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("registry %s: failed to persist: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
