package config

import "codeberg.org/mutker/framealign/internal/errors"

const (
	ErrInvalidConfig   = errors.ErrInvalidConfig
	ErrBindFlags       = errors.ErrBindFlags
	ErrReadConfig      = errors.ErrReadConfig
	ErrUnmarshalConfig = errors.ErrUnmarshalConfig
	ErrInvalidLogLevel = errors.ErrInvalidLogLevel
)
