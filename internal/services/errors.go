package services

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to the HTTP layer
var (
	ErrVaultNotFound       = errors.New("vault not found")
	ErrPredictionNotFound  = errors.New("prediction not found")
	ErrInsufficientBalance = errors.New("insufficient vault balance")
)

// ValidationError indicates a malformed request payload. It fails fast,
// before any chain or store access.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConfigurationError indicates required fee or asset configuration is
// missing. Fatal for the specific operation; never silently defaulted.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// StateConflictError indicates an event implied a lifecycle transition
// invalid for the current state. Batch processing logs these as warnings
// and moves on; single-operation callers receive them directly.
type StateConflictError struct {
	Msg string
}

func (e *StateConflictError) Error() string {
	return e.Msg
}

func stateConflictf(format string, args ...interface{}) error {
	return &StateConflictError{Msg: fmt.Sprintf(format, args...)}
}
