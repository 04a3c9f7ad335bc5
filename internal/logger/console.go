// Package logger provides leveled logging for webpilot runs.
//
// Console and file implementations share the same level names and line
// format, and both understand the run-level events emitted by the agent
// runner (run start, tool call, tool result, run complete). Implementations
// are safe for concurrent use.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/harrison/webpilot/internal/models"
	"github.com/mattn/go-isatty"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// maxInputPreview bounds how much of a tool's input is echoed to the console.
const maxInputPreview = 160

// ConsoleLogger writes "[HH:MM:SS] [LEVEL] message" lines to a writer.
// Levels are colorized when the writer is a terminal.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger. A nil writer discards output.
// Unknown or empty levels default to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal reports whether w is a TTY that should receive colors.
// NO_COLOR (via color.NoColor) always wins.
func isTerminal(w io.Writer) bool {
	if w == nil || color.NoColor {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel lowercases level and falls back to "info".
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	default:
		return "info"
	}
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// LogTrace logs a trace-level message.
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	if cl.colorOutput {
		fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, colorLevel(level), message)
		return
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, level, message)
}

func colorLevel(level string) string {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "INFO":
		return color.New(color.FgBlue).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		return color.New(color.FgRed).Sprint(level)
	default:
		return level
	}
}

// LogRunStart announces a new run.
func (cl *ConsoleLogger) LogRunStart(run *models.TaskRun) {
	cl.LogInfo(fmt.Sprintf("Starting run %s (%s mode): %s", run.ID, run.Mode, run.Command))
}

// LogToolCall logs a tool invocation at debug level with a bounded input preview.
func (cl *ConsoleLogger) LogToolCall(name string, input map[string]interface{}) {
	cl.LogDebug(fmt.Sprintf("Tool %s %s", name, previewInput(input)))
}

// LogToolResult logs a tool outcome; failures are warnings.
func (cl *ConsoleLogger) LogToolResult(name string, ok bool, summary string) {
	if ok {
		cl.LogDebug(fmt.Sprintf("Tool %s ok: %s", name, truncate(summary, maxInputPreview)))
		return
	}
	cl.LogWarn(fmt.Sprintf("Tool %s failed: %s", name, summary))
}

// LogRunComplete summarizes a sealed run.
func (cl *ConsoleLogger) LogRunComplete(run *models.TaskRun) {
	msg := fmt.Sprintf("Run %s finished: %s in %s (%d actions)",
		run.ID, run.Outcome, formatDuration(run.Duration), len(run.Actions))
	if run.Outcome == models.OutcomeSuccess {
		cl.LogInfo(msg)
		return
	}
	if run.ErrorKind != models.ErrorKindNone {
		msg += fmt.Sprintf(" [%s] %s", run.ErrorKind, run.Error)
	} else if run.Error != "" {
		msg += " " + run.Error
	}
	cl.LogError(msg)
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}

func previewInput(input map[string]interface{}) string {
	if len(input) == 0 {
		return "{}"
	}
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprintf("%v", input)
	}
	return truncate(string(data), maxInputPreview)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// formatDuration renders d as "1m5s" or "2.3s".
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// NoOpLogger discards everything.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogTrace(string)                            {}
func (n *NoOpLogger) LogDebug(string)                            {}
func (n *NoOpLogger) LogInfo(string)                             {}
func (n *NoOpLogger) LogWarn(string)                             {}
func (n *NoOpLogger) LogError(string)                            {}
func (n *NoOpLogger) LogRunStart(*models.TaskRun)                {}
func (n *NoOpLogger) LogToolCall(string, map[string]interface{}) {}
func (n *NoOpLogger) LogToolResult(string, bool, string)         {}
func (n *NoOpLogger) LogRunComplete(*models.TaskRun)             {}
