package models

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Shared validator instance; go-playground caches struct metadata, so one
// per process is the intended usage.
var validate = validator.New()

// ValidationError wraps any rule/task/instance validation failure so callers
// can map the whole category (for instance to HTTP 400).
type ValidationError struct {
	Entity string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Entity, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError

	return errors.As(err, &ve)
}
