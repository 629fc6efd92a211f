package models

import "errors"

// Error taxonomy shared by usecases, gateways and handlers.
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrServiceUnavailable   = errors.New("service unavailable")
	ErrValidationFailure    = errors.New("validation failure")
	ErrSandboxTimeout       = errors.New("sandbox execution timed out")
	ErrReplicaFailed        = errors.New("replica failed")
	ErrIntervalFailed       = errors.New("interval failed")
	ErrExperimentFailed     = errors.New("experiment failed")
	ErrCancelled            = errors.New("experiment cancelled")
	ErrNotFound             = errors.New("not found")
	ErrNotReady             = errors.New("not ready")
	ErrFinished             = errors.New("already finished")
)

// IsRetryable reports whether a failed external call may be attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrValidationFailure)
}
