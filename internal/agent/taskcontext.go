package agent

import (
	"errors"
	"sync"
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusIdle      TaskStatus = "idle"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// InterruptedReason is recorded on a running task that was failed because a
// new task started.
const InterruptedReason = "Task interrupted by new task"

// DefaultHistorySize bounds TaskContext history when none is configured.
const DefaultHistorySize = 50

// ErrNoActiveTask is returned when completing a task while none is running.
var ErrNoActiveTask = errors.New("no task is currently running")

// TaskState is one task's parameters and lifecycle.
type TaskState struct {
	TaskType   string
	Parameters map[string]string
	Status     TaskStatus
	StartedAt  time.Time
	EndedAt    time.Time // zero while running
	Result     string
}

func (s TaskState) clone() TaskState {
	if s.Parameters != nil {
		params := make(map[string]string, len(s.Parameters))
		for k, v := range s.Parameters {
			params[k] = v
		}
		s.Parameters = params
	}
	return s
}

// TaskContext holds the state of the task being executed and a bounded
// history of finished ones. At most one task is running at any time.
type TaskContext struct {
	mu         sync.Mutex
	current    *TaskState
	history    []TaskState
	maxHistory int
	values     map[string]interface{}
	clock      func() time.Time
}

// NewTaskContext creates an idle context keeping at most historySize
// finished tasks (DefaultHistorySize when <= 0).
func NewTaskContext(historySize int) *TaskContext {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &TaskContext{
		maxHistory: historySize,
		values:     make(map[string]interface{}),
		clock:      time.Now,
	}
}

// Start makes a new task the running one. A task that is still running is
// failed with InterruptedReason first, so it lands in history rather than
// being dropped.
func (c *TaskContext) Start(taskType string, params map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.Status == StatusRunning {
		c.finishLocked(StatusFailed, InterruptedReason)
	}
	state := TaskState{
		TaskType:   taskType,
		Parameters: params,
		Status:     StatusRunning,
		StartedAt:  c.clock(),
	}.clone()
	c.current = &state
}

// Complete finishes the running task as completed.
func (c *TaskContext) Complete(result string) error {
	return c.finish(StatusCompleted, result)
}

// Fail finishes the running task as failed.
func (c *TaskContext) Fail(reason string) error {
	return c.finish(StatusFailed, reason)
}

func (c *TaskContext) finish(status TaskStatus, result string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ErrNoActiveTask
	}
	c.finishLocked(status, result)
	return nil
}

func (c *TaskContext) finishLocked(status TaskStatus, result string) {
	c.current.Status = status
	c.current.Result = result
	c.current.EndedAt = c.clock()
	c.history = append(c.history, *c.current)
	if over := len(c.history) - c.maxHistory; over > 0 {
		c.history = append([]TaskState(nil), c.history[over:]...)
	}
	c.current = nil
}

// Current returns a copy of the running task, or nil when idle.
func (c *TaskContext) Current() *TaskState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	s := c.current.clone()
	return &s
}

// Status reports the running task's status, or StatusIdle.
func (c *TaskContext) Status() TaskStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return StatusIdle
	}
	return c.current.Status
}

// History returns finished tasks, oldest first.
func (c *TaskContext) History() []TaskState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TaskState, len(c.history))
	for i, s := range c.history {
		out[i] = s.clone()
	}
	return out
}

// Set stores a session value, such as the command being run.
func (c *TaskContext) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get returns a session value.
func (c *TaskContext) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}
