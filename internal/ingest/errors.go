package ingest

import "codeberg.org/mutker/framealign/internal/errors"

const (
	ErrInvalidSink    = errors.ErrorCode("ingest_invalid_sink")
	ErrListenerFailed = errors.ErrorCode("ingest_listener_failed")
)
