package automation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxDescriptionLen = 500
	maxSourceBytes    = 256 * 1024
	maxRunInterval    = 24 * 60 * 60 // one day, in seconds
)

// ValidateProgram performs validation on a program.
// Returns an error describing the first validation failure found.
//
// Source text is not compiled here; a program that does not compile can
// still be stored and is reported through LastError.
func ValidateProgram(p *Program) error {
	if p == nil {
		return ErrInvalidProgram
	}

	if err := ValidateName(p.Name); err != nil {
		return err
	}

	if p.Description != nil && len(*p.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidProgram, maxDescriptionLen)
	}

	if p.RunInterval < 0 || p.RunInterval > maxRunInterval {
		return fmt.Errorf("%w: run_interval must be 0-%d seconds", ErrInvalidProgram, maxRunInterval)
	}

	if err := validateSource("setup_text", p.SetupText); err != nil {
		return err
	}
	return validateSource("run_text", p.RunText)
}

func validateSource(field, text string) error {
	if len(text) > maxSourceBytes {
		return fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidProgram, field, maxSourceBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidProgram, field)
	}

	return nil
}

// ValidateName checks if a program name is valid.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// GenerateID creates a new UUID for a program or run.
func GenerateID() string {
	return uuid.New().String()
}
