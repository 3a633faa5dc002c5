package verify

import (
	"errors"
	"fmt"
)

// MalformedDocumentError indicates the parser output cannot be turned into a
// canonical statement. It is fatal to the run and carries the offending field
// so the caller can diagnose without re-running.
type MalformedDocumentError struct {
	Field  string
	Reason string
}

// Error returns the error message string.
func (e *MalformedDocumentError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed document: %s", e.Reason)
	}
	return fmt.Sprintf("malformed document: field %q: %s", e.Field, e.Reason)
}

// NewMalformedDocument creates a MalformedDocumentError for the given field.
func NewMalformedDocument(field, format string, args ...interface{}) error {
	return &MalformedDocumentError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}

// IsMalformedDocument reports whether err is a MalformedDocumentError.
func IsMalformedDocument(err error) bool {
	var target *MalformedDocumentError
	return errors.As(err, &target)
}

// FeatureShapeMismatchError indicates the feature vector does not match the
// loaded model schema. This is a deployment bug, never a data problem, and
// must abort the run.
type FeatureShapeMismatchError struct {
	ModelVersion string
	Expected     int
	Got          int
	Detail       string
}

// Error returns the error message string.
func (e *FeatureShapeMismatchError) Error() string {
	msg := fmt.Sprintf("feature shape mismatch for model %s: expected %d features, got %d",
		e.ModelVersion, e.Expected, e.Got)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// NewFeatureShapeMismatch creates a FeatureShapeMismatchError.
func NewFeatureShapeMismatch(modelVersion string, expected, got int, detail string) error {
	return &FeatureShapeMismatchError{
		ModelVersion: modelVersion,
		Expected:     expected,
		Got:          got,
		Detail:       detail,
	}
}

// IsFeatureShapeMismatch reports whether err is a FeatureShapeMismatchError.
func IsFeatureShapeMismatch(err error) bool {
	var target *FeatureShapeMismatchError
	return errors.As(err, &target)
}

// OracleUnavailableError indicates the vision oracle could not produce a
// judgment, either immediately (auth failure, malformed request) or after the
// retry budget was exhausted. The run continues with reduced-confidence
// fusion; the error is surfaced only as an annotation on the verdict.
type OracleUnavailableError struct {
	Attempts int
	Cause    error
}

// Error returns the error message string.
func (e *OracleUnavailableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("vision oracle unavailable after %d attempt(s)", e.Attempts)
	}
	return fmt.Sprintf("vision oracle unavailable after %d attempt(s): %v", e.Attempts, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *OracleUnavailableError) Unwrap() error {
	return e.Cause
}

// NewOracleUnavailable creates an OracleUnavailableError wrapping cause.
func NewOracleUnavailable(attempts int, cause error) error {
	return &OracleUnavailableError{
		Attempts: attempts,
		Cause:    cause,
	}
}

// IsOracleUnavailable reports whether err is an OracleUnavailableError.
func IsOracleUnavailable(err error) bool {
	var target *OracleUnavailableError
	return errors.As(err, &target)
}
