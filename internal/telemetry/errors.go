package telemetry

import "codeberg.org/mutker/framealign/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig        = errors.ErrInvalidConfig
	ErrInvalidListenAddress = errors.ErrorCode("telemetry_invalid_listen_address")
	ErrInvalidPath          = errors.ErrorCode("telemetry_invalid_path")

	// Endpoint Errors
	ErrServeFailed     = errors.ErrorCode("telemetry_serve_failed")
	ErrServiceShutdown = errors.ErrShutdownFailed
)
