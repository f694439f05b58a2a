package models

import (
	"errors"
	"fmt"
)

// Error codes carried over HTTP and the subscription stream.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeValidation      = "validation"
	CodeNotFound        = "not_found"
	CodeChannel         = "channel"
)

// Frame types of the subscription stream.
const (
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

// Frame is one message of the subscription stream.
type Frame struct {
	Type    string `json:"type"`
	Tasks   []Task `json:"tasks"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorBody is the JSON body of a failed API call.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// Classify returns the wire code of err and, for validation errors, the field.
func Classify(err error) (code, field string) {
	var ve *ValidationError
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated, ""
	case errors.As(err, &ve):
		return CodeValidation, ve.Field
	case errors.Is(err, ErrNotFound):
		return CodeNotFound, ""
	default:
		return CodeChannel, ""
	}
}

// FromCode rebuilds a typed error from its wire form.
func FromCode(op, code, field, msg string) error {
	switch code {
	case CodeUnauthenticated:
		return ErrUnauthenticated
	case CodeValidation:
		return &ValidationError{Field: field}
	case CodeNotFound:
		return ErrNotFound
	default:
		return &ChannelError{Op: op, Err: fmt.Errorf("remote: %s", msg)}
	}
}
