package config

import "errors"

var (
	// ErrChannelNotFound indicates a referenced mixer channel does not exist.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrInvalidConfig indicates a configuration that failed validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidDirection indicates an unrecognized channel direction.
	ErrInvalidDirection = errors.New("invalid direction")

	// ErrInvalidValue indicates a rejected volume or balance value.
	ErrInvalidValue = errors.New("invalid value")
)
