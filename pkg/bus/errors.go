package bus

import (
	"errors"
	"fmt"
)

// ErrDestroyed is returned by Emit after Destroy.
var ErrDestroyed = errors.New("event bus destroyed")

// MiddlewareError is returned by Emit when a middleware fails. The emit is
// aborted: no history append, no handler runs. The failure is also published
// as an "error" event before Emit returns.
type MiddlewareError struct {
	Event string
	Err   error
}

func (e *MiddlewareError) Error() string {
	return fmt.Sprintf("middleware aborted emit of %q: %v", e.Event, e.Err)
}

func (e *MiddlewareError) Unwrap() error {
	return e.Err
}
