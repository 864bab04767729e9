package rowinserter

import (
	"errors"
	"fmt"
)

// Secret store errors.
var (
	ErrSecretNotFound           = errors.New("secret not found")
	ErrSecretAccessDenied       = errors.New("secret access denied")
	ErrSecretServiceUnavailable = errors.New("secret service unavailable")
)

// ErrMalformedSecret is returned when the secret payload cannot be decoded
// into Credentials.
var ErrMalformedSecret = errors.New("malformed secret payload")

// Connection errors, classified from connector and driver failures.
var (
	ErrConnectionRefused    = errors.New("connection refused")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInstanceNotFound     = errors.New("instance not found")
)

// Pool errors.
var (
	ErrPoolTimeout        = errors.New("timed out waiting for a pooled connection")
	ErrPoolInitialization = errors.New("pool initialization failed")
)

// PoolInitError wraps the cause of a failed pool initialization. It matches
// both ErrPoolInitialization and its cause with errors.Is.
type PoolInitError struct {
	Err error
}

func (e *PoolInitError) Error() string {
	return fmt.Sprintf("%s: %v", ErrPoolInitialization, e.Err)
}

func (e *PoolInitError) Unwrap() []error {
	return []error{ErrPoolInitialization, e.Err}
}

// InsertErrorKind tells transient failures from fatal ones.
type InsertErrorKind int

const (
	// InsertUnexpected is anything not otherwise classified.
	InsertUnexpected InsertErrorKind = iota
	// InsertOperational covers connectivity and pool exhaustion.
	InsertOperational
	// InsertProgramming covers malformed SQL and schema mismatch.
	InsertProgramming
)

func (k InsertErrorKind) String() string {
	switch k {
	case InsertOperational:
		return "operational"
	case InsertProgramming:
		return "programming"
	default:
		return "unexpected"
	}
}

// InsertError is the failure result of Inserter.InsertRecord.
type InsertError struct {
	Kind InsertErrorKind
	Err  error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("%s error during insertion: %v", e.Kind, e.Err)
}

func (e *InsertError) Unwrap() error { return e.Err }

// Retryable reports whether retrying the same insert may succeed.
func (e *InsertError) Retryable() bool { return e.Kind == InsertOperational }
