package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Client-side failure taxonomy. Typed errors below match their sentinel with
// errors.Is so callers can branch on the kind without type assertions.
var (
	ErrNetwork        = errors.New("network error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrSessionExpired = errors.New("session expired")
	ErrValidation     = errors.New("validation failed")
	ErrServer         = errors.New("server error")
	ErrStorage        = errors.New("storage error")
	ErrNotReady       = errors.New("session not bootstrapped")
)

// Sandbox backend errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidToken       = errors.New("invalid token")
	ErrResetTokenInvalid  = errors.New("reset token invalid or expired")
)

// NetworkError wraps a transport failure (connection refused, timeout, ...).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return ErrNetwork.Error()
	}
	return fmt.Sprintf("%s: %v", ErrNetwork, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// ValidationError carries per-field messages keyed by the wire field name.
// Field names are never reinterpreted.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ServerError is an opaque non-success response.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (%d)", ErrServer, e.Code)
	}
	return fmt.Sprintf("%s (%d): %s", ErrServer, e.Code, e.Message)
}

func (e *ServerError) Is(target error) bool { return target == ErrServer }

// StorageError reports a credential store failure.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrStorage, e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }
