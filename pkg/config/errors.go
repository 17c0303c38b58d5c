package config

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks an invariant violation detected while building a configuration.
	ErrValidation = errors.New("configuration validation failed")

	// ErrUnresolvedEncoder is returned when the encoder name matches no known family
	// and no explicit encoder link was given.
	ErrUnresolvedEncoder = errors.New("encoder link could not be resolved")

	// ErrLookupMiss is returned when a key is absent from a static lookup table.
	ErrLookupMiss = errors.New("lookup miss")
)

// ValidationError describes a single violated configuration invariant.
type ValidationError struct {
	Field  string
	Reason string
	Cause  error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// LookupError reports a key missing from one of the fixed per-dataset tables.
type LookupError struct {
	Table string
	Key   string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s: no entry for %q", e.Table, e.Key)
}

func (e *LookupError) Is(target error) bool {
	return target == ErrLookupMiss
}

// NewValidationError creates a new validation error
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NewLookupError creates a new lookup error
func NewLookupError(table, key string) error {
	return &LookupError{Table: table, Key: key}
}
