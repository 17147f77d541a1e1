package errors

// Common error codes
const (
	// System errors
	ErrInternal           ErrorCode = "internal_error"
	ErrInvalidArgument    ErrorCode = "invalid_argument"
	ErrInvariantViolation ErrorCode = "invariant_violation"
	ErrAlreadyRunning     ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig       ErrorCode = "invalid_configuration"
	ErrBindFlags           ErrorCode = "bind_flags_failed"
	ErrReadConfig          ErrorCode = "read_config_failed"
	ErrUnmarshalConfig     ErrorCode = "unmarshal_config_failed"
	ErrInvalidFrameRate    ErrorCode = "invalid_frame_rate"
	ErrInvalidLagTime      ErrorCode = "invalid_lag_time"
	ErrInvalidLeadTime     ErrorCode = "invalid_lead_time"
	ErrInvalidDownsampling ErrorCode = "invalid_downsampling_method"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Lifecycle errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrNotRunning     ErrorCode = "not_running"

	// Operation errors
	ErrOperationFailed ErrorCode = "operation_failed"
	ErrTimeout         ErrorCode = "operation_timeout"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:            "Internal error occurred",
	ErrInvalidArgument:     "Invalid argument provided",
	ErrInvariantViolation:  "Internal invariant violated",
	ErrAlreadyRunning:      "Another instance is already running",
	ErrInvalidConfig:       "Invalid configuration",
	ErrBindFlags:           "Failed to bind flags",
	ErrReadConfig:          "Failed to read configuration",
	ErrUnmarshalConfig:     "Failed to unmarshal configuration",
	ErrInvalidFrameRate:    "Frames per second must be positive",
	ErrInvalidLagTime:      "Lag time must be positive",
	ErrInvalidLeadTime:     "Lead time must not be negative",
	ErrInvalidDownsampling: "Unknown downsampling method",
	ErrInvalidLogLevel:     "Invalid log level",
	ErrInitFailed:          "Initialization failed",
	ErrShutdownFailed:      "Shutdown failed",
	ErrNotRunning:          "Not running",
	ErrOperationFailed:     "Operation failed",
	ErrTimeout:             "Operation timed out",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
