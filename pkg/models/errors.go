package models

import (
	"errors"
	"fmt"
)

// DataIntegrityError marks empty or invalid training input. It aborts the
// run and leaves the previous artifact active.
type DataIntegrityError struct {
	Stage   string
	Message string
	Cause   error
}

func (e *DataIntegrityError) Error() string {
	return formatError("data integrity", e.Stage, e.Message, e.Cause)
}

func (e *DataIntegrityError) Unwrap() error { return e.Cause }

// ModelFitError marks a numeric failure while factorizing or clustering.
type ModelFitError struct {
	Stage   string
	Message string
	Cause   error
}

func (e *ModelFitError) Error() string {
	return formatError("model fit", e.Stage, e.Message, e.Cause)
}

func (e *ModelFitError) Unwrap() error { return e.Cause }

// CacheUnavailableError is transient. Serving recovers from it locally.
type CacheUnavailableError struct {
	Op    string
	Key   string
	Cause error
}

func (e *CacheUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cache unavailable: %s %s: %v", e.Op, e.Key, e.Cause)
	}
	return fmt.Sprintf("cache unavailable: %s %s", e.Op, e.Key)
}

func (e *CacheUnavailableError) Unwrap() error { return e.Cause }

func IsDataIntegrity(err error) bool {
	var target *DataIntegrityError
	return errors.As(err, &target)
}

func IsModelFit(err error) bool {
	var target *ModelFitError
	return errors.As(err, &target)
}

func IsCacheUnavailable(err error) bool {
	var target *CacheUnavailableError
	return errors.As(err, &target)
}

func formatError(kind, stage, msg string, cause error) string {
	s := kind + ": " + stage + ": " + msg
	if cause != nil {
		s += ": " + cause.Error()
	}
	return s
}
