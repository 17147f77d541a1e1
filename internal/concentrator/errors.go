package concentrator

import "codeberg.org/mutker/framealign/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig       = errors.ErrInvalidConfig
	ErrInvalidFrameRate    = errors.ErrInvalidFrameRate
	ErrInvalidLagTime      = errors.ErrInvalidLagTime
	ErrInvalidLeadTime     = errors.ErrInvalidLeadTime
	ErrInvalidDownsampling = errors.ErrInvalidDownsampling

	// Lifecycle Errors
	ErrAlreadyRunning = errors.ErrorCode("concentrator_already_running")
	ErrStopTimeout    = errors.ErrorCode("concentrator_stop_timeout")

	// Runtime Errors
	ErrInvariantViolation = errors.ErrInvariantViolation
	ErrListenerFailed     = errors.ErrorCode("concentrator_listener_failed")
)
