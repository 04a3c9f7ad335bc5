package logger

import "github.com/harrison/webpilot/internal/models"

// RunLogger is the full surface implemented by every logger in this package.
type RunLogger interface {
	LogTrace(message string)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
	LogRunStart(run *models.TaskRun)
	LogToolCall(name string, input map[string]interface{})
	LogToolResult(name string, ok bool, summary string)
	LogRunComplete(run *models.TaskRun)
}

// MultiLogger fans every call out to each wrapped logger in order.
type MultiLogger struct {
	loggers []RunLogger
}

// NewMultiLogger wraps loggers, skipping nils.
func NewMultiLogger(loggers ...RunLogger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

func (m *MultiLogger) each(fn func(RunLogger)) {
	for _, l := range m.loggers {
		fn(l)
	}
}

func (m *MultiLogger) LogTrace(msg string) { m.each(func(l RunLogger) { l.LogTrace(msg) }) }
func (m *MultiLogger) LogDebug(msg string) { m.each(func(l RunLogger) { l.LogDebug(msg) }) }
func (m *MultiLogger) LogInfo(msg string)  { m.each(func(l RunLogger) { l.LogInfo(msg) }) }
func (m *MultiLogger) LogWarn(msg string)  { m.each(func(l RunLogger) { l.LogWarn(msg) }) }
func (m *MultiLogger) LogError(msg string) { m.each(func(l RunLogger) { l.LogError(msg) }) }

func (m *MultiLogger) LogRunStart(run *models.TaskRun) {
	m.each(func(l RunLogger) { l.LogRunStart(run) })
}

func (m *MultiLogger) LogToolCall(name string, input map[string]interface{}) {
	m.each(func(l RunLogger) { l.LogToolCall(name, input) })
}

func (m *MultiLogger) LogToolResult(name string, ok bool, summary string) {
	m.each(func(l RunLogger) { l.LogToolResult(name, ok, summary) })
}

func (m *MultiLogger) LogRunComplete(run *models.TaskRun) {
	m.each(func(l RunLogger) { l.LogRunComplete(run) })
}

var (
	_ RunLogger = (*ConsoleLogger)(nil)
	_ RunLogger = (*FileLogger)(nil)
	_ RunLogger = (*NoOpLogger)(nil)
	_ RunLogger = (*MultiLogger)(nil)
)
