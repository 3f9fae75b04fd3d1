package board

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid input")
	ErrConflict = errors.New("conflict")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalid, e.Field, e.Msg)
}

func (e ValidationError) Unwrap() error { return ErrInvalid }

func invalid(field, msg string) error { return ValidationError{Field: field, Msg: msg} }
