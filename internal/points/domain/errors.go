package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation_error")
	ErrInsufficientPoints = errors.New("insufficient_points")
	ErrInvalidUser        = errors.New("invalid_user")
)

// ValidationError describes a malformed or sign-inconsistent entry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation_error: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
