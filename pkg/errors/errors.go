// Package errors defines custom error types and sentinel errors for the socdl
// acquisition service.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common acquisition scenarios.
// These can be used with errors.Is() for error comparison.
var (
	// ErrInvalidURL is returned when a provided URL is malformed or empty.
	ErrInvalidURL = errors.New("invalid URL provided")

	// ErrTaskNotFound is returned when a task id is not known to the tracker.
	ErrTaskNotFound = errors.New("task not found")

	// ErrFileNotFound is returned when a requested artifact does not exist
	// in the download directory.
	ErrFileNotFound = errors.New("file not found")

	// ErrOutputMissing is returned when the fetch tool reported success but
	// no output file matching the task id was found on disk.
	ErrOutputMissing = errors.New("fetch finished but output file is missing")

	// ErrInsufficientSpace is returned when there is not enough disk space
	// to start a download.
	ErrInsufficientSpace = errors.New("insufficient disk space")

	// ErrAllStrategiesFailed is returned when every strategy in a ladder
	// has been tried and none produced a file.
	ErrAllStrategiesFailed = errors.New("all extraction strategies failed")
)

// ErrorCode represents different types of errors that can occur during
// acquisition.
type ErrorCode int

const (
	// CodeUnknown represents an unknown or unclassified error.
	CodeUnknown ErrorCode = iota

	// CodeInvalidURL represents errors related to malformed or invalid URLs.
	CodeInvalidURL

	// CodeExtractionFailed represents a failed extraction attempt for a
	// single strategy (network errors, gated content, tool failures).
	CodeExtractionFailed

	// CodeOutputMissing represents a fetch that finished without leaving a
	// matching output file on disk.
	CodeOutputMissing

	// CodeTaskNotFound represents lookups of unknown task ids.
	CodeTaskNotFound

	// CodeFileNotFound represents lookups of unknown artifact filenames.
	CodeFileNotFound

	// CodeInsufficientSpace represents errors due to lack of disk space.
	CodeInsufficientSpace

	// CodeIndexCorrupted represents an unreadable cache index. The cache
	// recovers by starting empty, so this code only appears in warnings.
	CodeIndexCorrupted

	// CodePersistFailed represents a failed write of the cache index.
	// In-memory state stays authoritative; the next write reconciles.
	CodePersistFailed

	// CodeStrategiesExhausted represents a ladder in which every strategy
	// failed.
	CodeStrategiesExhausted
)

// String returns a string representation of the error code.
func (c ErrorCode) String() string {
	switch c {
	case CodeUnknown:
		return "unknown"
	case CodeInvalidURL:
		return "invalid_url"
	case CodeExtractionFailed:
		return "extraction_failed"
	case CodeOutputMissing:
		return "output_missing"
	case CodeTaskNotFound:
		return "task_not_found"
	case CodeFileNotFound:
		return "file_not_found"
	case CodeInsufficientSpace:
		return "insufficient_space"
	case CodeIndexCorrupted:
		return "index_corrupted"
	case CodePersistFailed:
		return "persist_failed"
	case CodeStrategiesExhausted:
		return "strategies_exhausted"
	default:
		return "unknown"
	}
}

// AcquisitionError represents a structured error raised while resolving a URL
// into a local file. It carries enough context to decide whether the ladder
// should continue and what to surface to the caller.
type AcquisitionError struct {
	// Code represents the type of error that occurred.
	Code ErrorCode

	// Message is a user-friendly error message.
	Message string

	// URL is the source URL that caused the error, if applicable.
	URL string

	// Strategy is the name of the strategy that was being executed, if any.
	Strategy string

	// Underlying is the original error that caused this one.
	Underlying error
}

// Error implements the error interface for AcquisitionError.
func (e *AcquisitionError) Error() string {
	msg := e.Message
	if msg == "" && e.Underlying != nil {
		msg = e.Underlying.Error()
	}
	if msg == "" {
		msg = "acquisition error occurred"
	}
	if e.Strategy != "" {
		return fmt.Sprintf("strategy %s: %s", e.Strategy, msg)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping support.
// This allows the use of errors.Is() and errors.As() with AcquisitionError.
func (e *AcquisitionError) Unwrap() error {
	return e.Underlying
}

// Is implements error comparison for AcquisitionError.
func (e *AcquisitionError) Is(target error) bool {
	if e.Underlying != nil && errors.Is(e.Underlying, target) {
		return true
	}

	switch e.Code {
	case CodeInvalidURL:
		return errors.Is(target, ErrInvalidURL)
	case CodeTaskNotFound:
		return errors.Is(target, ErrTaskNotFound)
	case CodeFileNotFound:
		return errors.Is(target, ErrFileNotFound)
	case CodeOutputMissing:
		return errors.Is(target, ErrOutputMissing)
	case CodeInsufficientSpace:
		return errors.Is(target, ErrInsufficientSpace)
	case CodeStrategiesExhausted:
		return errors.Is(target, ErrAllStrategiesFailed)
	}

	return false
}

// New creates a new AcquisitionError with the specified code and message.
func New(code ErrorCode, message string) *AcquisitionError {
	return &AcquisitionError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error as an AcquisitionError with additional context.
func Wrap(underlying error, code ErrorCode, message string) *AcquisitionError {
	return &AcquisitionError{
		Code:       code,
		Message:    message,
		Underlying: underlying,
	}
}

// WrapStrategy wraps a per-strategy failure, recording the strategy name so
// the full ladder history stays reconstructable from the error list.
func WrapStrategy(underlying error, strategy, url string) *AcquisitionError {
	return &AcquisitionError{
		Code:       CodeExtractionFailed,
		URL:        url,
		Strategy:   strategy,
		Underlying: underlying,
	}
}

// GetCode extracts the error code from any error, returning CodeUnknown if
// the error is not an AcquisitionError.
func GetCode(err error) ErrorCode {
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		return acqErr.Code
	}

	return CodeUnknown
}
