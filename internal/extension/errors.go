package extension

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCapabilitySet = errors.New("invalid capability set")
	ErrExtensionLoad        = errors.New("extension load failed")
	ErrUnknownCategory      = errors.New("unknown capability category")
	ErrUnknownType          = errors.New("unknown extension type")
	ErrMethodNotFound       = errors.New("method not found")
)

// LoadError reports a unit that could not be loaded.
type LoadError struct {
	Prefix string
	Cause  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("error in %s: %v", e.Prefix, e.Cause)
}

// Unwrap returns the underlying failure.
func (e *LoadError) Unwrap() error { return e.Cause }

// Is matches ErrExtensionLoad.
func (e *LoadError) Is(target error) bool {
	return target == ErrExtensionLoad
}
