package toolbase

import "errors"

// ErrValidationFailed is returned when a path argument is rejected by
// sanitization before any operation is dispatched to the sandbox.
var ErrValidationFailed = errors.New("toolbase: validation failed")
