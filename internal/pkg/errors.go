package pkg

import (
	"errors"
	"fmt"
)

var (
	ErrSourceFormatUnrecognized = errors.New("no format recognizes the package source")
	ErrInvalidName              = errors.New("invalid package name")
	ErrDescriptorNotFound       = errors.New("package descriptor not found")
	ErrMetadataParse            = errors.New("package descriptor is not valid json")
	ErrMetadataNameMismatch     = errors.New("descriptor name does not match package name")
	ErrMetadataMissingField     = errors.New("descriptor is missing a required field")
	ErrVerificationUnsupported  = errors.New("package verification is not supported")
	ErrFileRemoval              = errors.New("unable to remove package files")
	ErrNotInstalled             = errors.New("package is not installed")
)

// MissingFieldError names the required descriptor field that is absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("descriptor is missing the %q field", e.Field)
}

// Is matches ErrMetadataMissingField.
func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMetadataMissingField
}
