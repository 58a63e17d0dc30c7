// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound = errors.New("not found")

	// Training errors.
	ErrDataUnavailable = errors.New("no usable interaction data")
	ErrTrainingFailed  = errors.New("training failed")

	// Serving errors.
	ErrArtifactsUnavailable = errors.New("model artifacts unavailable")

	// Event logging errors.
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidProduct = errors.New("invalid product")

	// Configuration errors.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsValidationError reports whether err rejects caller input rather than
// signalling an internal failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInvalidProduct)
}
