package domain

import (
	"errors"
	"fmt"
)

// ErrMissingField matches every *MissingFieldError via errors.Is.
var ErrMissingField = errors.New("missing required field")

// MissingFieldError reports a required field that was absent and has no default.
type MissingFieldError struct {
	Entity string
	Field  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s: %q", e.Entity, ErrMissingField.Error(), e.Field)
}

func (e *MissingFieldError) Is(target error) bool { return target == ErrMissingField }

func missing(entity, field string) error {
	return &MissingFieldError{Entity: entity, Field: field}
}
