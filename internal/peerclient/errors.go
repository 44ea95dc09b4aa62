package peerclient

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachablePeer is returned when no address of the peer answers in time.
	ErrUnreachablePeer = errors.New("peer unreachable")
	// ErrPeerRejected is returned when the peer answers with a non-2xx status.
	ErrPeerRejected = errors.New("peer rejected request")
	// ErrMalformedManifest is returned when a manifest response cannot be trusted.
	ErrMalformedManifest = errors.New("malformed manifest")
)

// RejectedError carries the status and message of a non-2xx response.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("peer rejected request (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("peer rejected request (%d)", e.Status)
}

// Is matches ErrPeerRejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrPeerRejected
}

type apiErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
