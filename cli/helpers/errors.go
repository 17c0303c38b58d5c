package helpers

import (
	"errors"
	"fmt"
)

var (
	// ErrNoConfig is returned by commands that run without a built configuration.
	ErrNoConfig = errors.New("configuration not loaded")
	// ErrUnsupportedFormat is returned for unknown --format values.
	ErrUnsupportedFormat = errors.New("unsupported output format")
	// ErrInvalidOverride is returned for --set values that are not key=value.
	ErrInvalidOverride = errors.New("invalid override")
)

// FormatError reports an output format no command understands.
type FormatError struct {
	Format    string
	Supported []string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unsupported format %q (supported: %v)", e.Format, e.Supported)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// OverrideError reports a malformed --set argument.
type OverrideError struct {
	Value string
}

func (e *OverrideError) Error() string {
	return fmt.Sprintf("invalid override %q: expected key=value", e.Value)
}

func (e *OverrideError) Is(target error) bool {
	return target == ErrInvalidOverride
}

// NewFormatError creates a new format error
func NewFormatError(format string, supported ...string) error {
	return &FormatError{Format: format, Supported: supported}
}

// NewOverrideError creates a new override error
func NewOverrideError(value string) error {
	return &OverrideError{Value: value}
}
