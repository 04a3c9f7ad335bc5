package executor

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnknownTool is returned for tool names outside the catalog.
var ErrUnknownTool = errors.New("unknown tool")

// StrategyAttempt is one tried strategy of a multi-strategy action.
type StrategyAttempt struct {
	Strategy string `json:"strategy"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// StrategyError reports that every applicable strategy of an action failed.
// Its message carries one diagnostic per attempt, in the order tried.
type StrategyError struct {
	Action   string
	Attempts []StrategyAttempt
}

// Error implements the error interface.
func (e *StrategyError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s failed after %d strategies", e.Action, len(e.Attempts)))
	for i, a := range e.Attempts {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString("; ")
		}
		sb.WriteString(fmt.Sprintf("%s: %s", a.Strategy, a.Error))
	}
	return sb.String()
}

// StatusError is a transfer that got a non-200 response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download failed with status code %d", e.StatusCode)
}

// IsForbidden reports whether err is a 403 from the remote resource, the
// signal that a signed URL's authorization has expired.
func IsForbidden(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusForbidden
	}
	return strings.Contains(err.Error(), "403")
}
