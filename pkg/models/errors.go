package models

import (
	"fmt"
	"strings"
)

// ValidationError represents structured validation errors
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (ve ValidationError) Error() string {
	if ve.Value != "" {
		return fmt.Sprintf("validation error in field '%s': %s (value: %s)", ve.Field, ve.Message, ve.Value)
	}
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(ve), ve[0].Error(), len(ve)-1)
}

// MalformedPairingError reports replicate columns that cannot be paired 1:1.
// Averaging must not start when this is returned.
type MalformedPairingError struct {
	Columns []string
	Reason  string
}

func (e *MalformedPairingError) Error() string {
	if len(e.Columns) == 0 {
		return fmt.Sprintf("malformed replicate pairing: %s", e.Reason)
	}
	return fmt.Sprintf("malformed replicate pairing: %s [%s]", e.Reason, strings.Join(e.Columns, ", "))
}

// InsufficientDataError reports fewer samples than a stage needs
type InsufficientDataError struct {
	Stage    string
	Samples  int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: %d samples, need more than %d", e.Stage, e.Samples, e.Required)
}

// DegenerateInputError reports a feature set with nothing left to project
type DegenerateInputError struct {
	Stage  string
	Reason string
}

func (e *DegenerateInputError) Error() string {
	return fmt.Sprintf("%s: degenerate input: %s", e.Stage, e.Reason)
}
