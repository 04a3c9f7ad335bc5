package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrorKind classifies why a run (or a step inside it) failed.
type ErrorKind string

const (
	ErrorKindNone                 ErrorKind = ""
	ErrorKindElementNotFound      ErrorKind = "element_not_found"
	ErrorKindExpiredAuthorization ErrorKind = "expired_authorization"
	ErrorKindMaxIterations        ErrorKind = "max_iterations"
	ErrorKindUnexpectedResponse   ErrorKind = "unexpected_response"
	ErrorKindLaunchFailure        ErrorKind = "launch_failure"
	ErrorKindToolError            ErrorKind = "tool_error"
	ErrorKindUnknown              ErrorKind = "unknown"
)

// Sentinel errors shared across packages.
var (
	ErrMaxIterations      = errors.New("max iterations reached")
	ErrUnexpectedResponse = errors.New("unexpected model response")
	ErrElementNotFound    = errors.New("element not found")
	ErrURLExpired         = errors.New("URL expired, re-navigate")
)

// RunError is the structured failure attached to a run result.
// Message is always human readable; Err carries the underlying cause.
type RunError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewRunError builds a RunError of the given kind.
func NewRunError(kind ErrorKind, msg string, err error) *RunError {
	return &RunError{Kind: kind, Message: msg, Err: err}
}

// Error implements the error interface.
func (e *RunError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s: %s", e.Kind, e.Message))
	if e.Err != nil && !strings.Contains(e.Message, e.Err.Error()) {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err, falling back to sentinel matching.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	switch {
	case errors.Is(err, ErrMaxIterations):
		return ErrorKindMaxIterations
	case errors.Is(err, ErrURLExpired):
		return ErrorKindExpiredAuthorization
	case errors.Is(err, ErrElementNotFound):
		return ErrorKindElementNotFound
	case errors.Is(err, ErrUnexpectedResponse):
		return ErrorKindUnexpectedResponse
	}
	return ErrorKindUnknown
}

// IsMaxIterations reports whether err signals an exhausted iteration budget.
func IsMaxIterations(err error) bool {
	return KindOf(err) == ErrorKindMaxIterations
}

// IsExpiredAuthorization reports whether err signals an expired signed URL.
func IsExpiredAuthorization(err error) bool {
	return KindOf(err) == ErrorKindExpiredAuthorization
}

// ErrorCategory is the coarse keyword bucket used by the failure analyzer.
type ErrorCategory string

const (
	CategoryTimeout         ErrorCategory = "timeout"
	CategoryElementNotFound ErrorCategory = "element_not_found"
	CategoryNavigation      ErrorCategory = "navigation_error"
	CategorySelector        ErrorCategory = "selector_error"
	CategoryBrowser         ErrorCategory = "browser_error"
	CategoryUnknown         ErrorCategory = "unknown"
)

var (
	timeoutPattern    = regexp.MustCompile(`(?i)timeout|timed out|wait.*exceeded`)
	notFoundPattern   = regexp.MustCompile(`(?i)element not found|no element|cannot find|couldn't find`)
	navigationPattern = regexp.MustCompile(`(?i)navigation|failed to navigate|page crash`)
	selectorPattern   = regexp.MustCompile(`(?i)selector|invalid selector|malformed selector`)
	browserPattern    = regexp.MustCompile(`(?i)browser crash|browser disconnect|connection lost`)
)

// CategorizeError buckets a raw error message by keyword. Order matters:
// a timeout waiting for a selector is a timeout, not a selector error.
func CategorizeError(msg string) ErrorCategory {
	switch {
	case msg == "":
		return CategoryUnknown
	case timeoutPattern.MatchString(msg):
		return CategoryTimeout
	case notFoundPattern.MatchString(msg):
		return CategoryElementNotFound
	case navigationPattern.MatchString(msg):
		return CategoryNavigation
	case selectorPattern.MatchString(msg):
		return CategorySelector
	case browserPattern.MatchString(msg):
		return CategoryBrowser
	default:
		return CategoryUnknown
	}
}
