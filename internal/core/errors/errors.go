// Package errors provides centralized error definitions for the application.
//
// Naming conventions:
//   - Exported sentinels (Err*): check with errors.Is
//   - Typed errors (FetchError, ParseError, ...): carry the scope of the
//     failure (source, paper, channel) and are checked with errors.As
//   - Use fmt.Errorf with %w to wrap with context
package errors

import (
	"errors"
	"fmt"
)

// Generic sentinels.
var (
	// ErrNotFound indicates a paper could not be found.
	ErrNotFound = errors.New("paper not found")

	// ErrEmptyResponse indicates an empty LLM response.
	ErrEmptyResponse = errors.New("empty response")

	// ErrCircuitBreakerOpen indicates the LLM circuit breaker has tripped.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

	// ErrScoringDisabled indicates AI processing is turned off in config.
	ErrScoringDisabled = errors.New("scoring disabled")
)

// FetchError is a source-scoped feed download failure.
type FetchError struct {
	SourceID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.SourceID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err with the failing source's identifier.
func NewFetchError(sourceID string, err error) *FetchError {
	return &FetchError{SourceID: sourceID, Err: err}
}

// ParseError is a source-scoped feed parse failure.
type ParseError struct {
	SourceID string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.SourceID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError wraps err with the failing source's identifier.
func NewParseError(sourceID string, err error) *ParseError {
	return &ParseError{SourceID: sourceID, Err: err}
}

// AIProcessingError is a paper-scoped scoring or selection failure.
type AIProcessingError struct {
	GUID string
	Err  error
}

func (e *AIProcessingError) Error() string {
	return fmt.Sprintf("ai processing %s: %v", e.GUID, e.Err)
}

func (e *AIProcessingError) Unwrap() error { return e.Err }

// NewAIProcessingError wraps err with the failing paper's GUID.
func NewAIProcessingError(guid string, err error) *AIProcessingError {
	return &AIProcessingError{GUID: guid, Err: err}
}

// NotificationError is a channel-scoped delivery failure. Adapters convert
// it to a false return at the dispatcher boundary; it never crosses it.
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify via %s: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// Is is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
