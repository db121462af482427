package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxChannelName is the longest channel or port name accepted.
	MaxChannelName = 256

	// MaxCommandFrame is the largest single command request in bytes.
	MaxCommandFrame = 64 * 1024

	// MaxCommandOpts is the most positional arguments a command may carry.
	MaxCommandOpts = 8
)

var (
	// ErrFrameEmpty indicates an empty request frame.
	ErrFrameEmpty = errors.New("empty frame")

	// ErrFrameTooLarge indicates a frame over its size limit.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrNameInvalid indicates an empty or oversized channel name.
	ErrNameInvalid = errors.New("invalid name")

	// ErrTooManyOpts indicates a command with too many positional arguments.
	ErrTooManyOpts = errors.New("too many command options")
)

// ValidateSize validates data against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateSize(data []byte, maxSize int) error {
	if len(data) == 0 {
		return ErrFrameEmpty
	}
	if len(data) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFrameTooLarge, len(data), maxSize)
	}
	return nil
}

// ValidateCommandFrame validates a raw request against MaxCommandFrame.
func ValidateCommandFrame(frame []byte) error {
	if err := ValidateSize(frame, MaxCommandFrame); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

// ValidateChannelName validates a channel or port name.
func ValidateChannelName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrNameInvalid)
	}
	if len(name) > MaxChannelName {
		return fmt.Errorf("%w: %q is %d bytes, limit %d", ErrNameInvalid, name, len(name), MaxChannelName)
	}
	return nil
}

// ValidateOpts validates the positional argument count of a command.
func ValidateOpts(opts []string) error {
	if len(opts) > MaxCommandOpts {
		return fmt.Errorf("%w: %d exceeds limit %d", ErrTooManyOpts, len(opts), MaxCommandOpts)
	}
	return nil
}
