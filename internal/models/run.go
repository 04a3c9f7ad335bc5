package models

import (
	"fmt"
	"strings"
	"time"
)

// ExecutionMode selects how instructions are produced for a run.
type ExecutionMode string

const (
	ModeFast     ExecutionMode = "fast"     // Render the static task template
	ModeAdaptive ExecutionMode = "adaptive" // Fold ledger analysis into the instructions
)

// ParseExecutionMode normalizes a mode name. The legacy names "speed" and
// "accuracy" map to fast and adaptive.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast", "speed":
		return ModeFast, nil
	case "adaptive", "accuracy":
		return ModeAdaptive, nil
	default:
		return "", fmt.Errorf("invalid execution mode %q (must be fast or adaptive)", s)
	}
}

// Outcome is the terminal state of a TaskRun.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ActionRecord is one tool call and its result inside a run.
type ActionRecord struct {
	Action    string                 `json:"action"`
	Success   bool                   `json:"success"`
	Timestamp time.Time              `json:"timestamp"`
	Error     string                 `json:"error,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// TaskRun is the ledger entry for one end-to-end automation attempt.
type TaskRun struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	Command      string         `json:"command"`
	Instructions string         `json:"instructions"`
	Mode         ExecutionMode  `json:"mode"`
	Actions      []ActionRecord `json:"actions"`
	Outcome      Outcome        `json:"outcome"`
	Duration     time.Duration  `json:"duration"`
	Error        string         `json:"error,omitempty"`
	ErrorKind    ErrorKind      `json:"error_kind,omitempty"`
	SealedAt     *time.Time     `json:"sealed_at,omitempty"` // nil until the run is sealed
}

// IsSealed reports whether the run's outcome has been fixed.
func (r *TaskRun) IsSealed() bool {
	return r.SealedAt != nil
}

// Failed reports whether the run was sealed as a failure.
func (r *TaskRun) Failed() bool {
	return r.Outcome == OutcomeFailure
}

// FailedActions returns the actions whose success flag is false, in order.
func (r *TaskRun) FailedActions() []ActionRecord {
	var failed []ActionRecord
	for _, a := range r.Actions {
		if !a.Success {
			failed = append(failed, a)
		}
	}
	return failed
}

// Clone returns a deep copy so callers cannot mutate ledger-owned state.
func (r *TaskRun) Clone() *TaskRun {
	if r == nil {
		return nil
	}
	out := *r
	out.Actions = make([]ActionRecord, len(r.Actions))
	for i, a := range r.Actions {
		out.Actions[i] = a.clone()
	}
	if r.SealedAt != nil {
		sealed := *r.SealedAt
		out.SealedAt = &sealed
	}
	return &out
}

func (a ActionRecord) clone() ActionRecord {
	if a.Detail == nil {
		return a
	}
	detail := make(map[string]interface{}, len(a.Detail))
	for k, v := range a.Detail {
		detail[k] = v
	}
	a.Detail = detail
	return a
}
