package engine

import "errors"

// Sentinel error kinds returned by Client implementations. Callers should
// use errors.Is against these rather than matching error strings; call
// sites wrap the underlying engine error with fmt.Errorf("%w: %v", ...) so
// the original detail survives alongside the classification.
var (
	ErrNotFound              = errors.New("engine: not found")
	ErrAlreadyExists         = errors.New("engine: already exists")
	ErrEngineUnavailable     = errors.New("engine: unavailable")
	ErrEngineOperationFailed = errors.New("engine: operation failed")
	ErrNotRunning            = errors.New("engine: container not running")
	ErrTimeout               = errors.New("engine: operation timed out")
)
