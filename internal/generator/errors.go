package generator

import "codeberg.org/mutker/framealign/internal/errors"

const (
	ErrInvalidConfig   = errors.ErrInvalidConfig
	ErrInvalidRate     = errors.ErrorCode("generator_invalid_rate")
	ErrInvalidDropRate = errors.ErrorCode("generator_invalid_drop_rate")
	ErrInvalidQueue    = errors.ErrorCode("generator_invalid_queue")
)
