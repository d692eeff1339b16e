package container

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState rejects a lifecycle call from a status that does not
	// allow it.
	ErrInvalidState = errors.New("invalid container state")

	// ErrNotInitialized rejects Start before Initialize has set a session.
	ErrNotInitialized = errors.New("container not initialized")
)

// StateError is the precondition failure returned by lifecycle methods. It
// wraps one of the sentinel errors above so callers can errors.Is on the
// category.
type StateError struct {
	ContainerID string
	Op          string
	Status      Status
	Err         error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("container %s: cannot %s while %s: %v", e.ContainerID, e.Op, e.Status, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}
