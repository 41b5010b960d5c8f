package config

import (
	"errors"
	"fmt"
)

// Sentinel errors wrapped by ValidationError and LoadError.
var (
	ErrConfigNotFound       = errors.New("configuration file not found")
	ErrInvalidYAML          = errors.New("invalid YAML syntax")
	ErrStepNotFound         = errors.New("step not found")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidValue         = errors.New("invalid field value")
)

// ValidationError locates a validation failure: the section being validated
// (step, orchestrator, workers, sessions, retention), the step ID or section
// name, and optionally the offending field.
type ValidationError struct {
	Component string
	ID        string
	Field     string
	Err       error
}

func (e *ValidationError) Error() string {
	where := fmt.Sprintf("%s '%s'", e.Component, e.ID)
	if e.Field != "" {
		where += fmt.Sprintf(": field '%s'", e.Field)
	}
	return where + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError creates a ValidationError. field may be empty.
func NewValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}

// LoadError is a failure to read or parse a configuration file.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string { return "failed to load " + e.File + ": " + e.Err.Error() }

func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError creates a LoadError for file.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
