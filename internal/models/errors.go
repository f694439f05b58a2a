package models

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when no user scope is available.
	ErrUnauthenticated = errors.New("unauthenticated: no user scope")
	// ErrNotFound is returned when an update targets a task that no longer exists.
	ErrNotFound = errors.New("task not found")
)

// ValidationError names the first field that failed validation.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s is required", e.Field)
}

// ChannelError wraps a failure reported by the remote backend.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// NewChannelError wraps err unless it is nil or already classified.
func NewChannelError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ChannelError
	var ve *ValidationError
	if errors.As(err, &ce) || errors.As(err, &ve) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthenticated) {
		return err
	}
	return &ChannelError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsChannel reports whether err is a ChannelError.
func IsChannel(err error) bool {
	var ce *ChannelError
	return errors.As(err, &ce)
}
