package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/webpilot/internal/models"
)

// FileLogger writes a timestamped log file per process under logDir and
// keeps latest.log pointing at it. Every write is flushed immediately.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates a FileLogger in logDir at the given level.
func NewFileLogger(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	stamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", stamp))
	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		logLevel: normalizeLogLevel(logLevel),
	}
	fl.write("=== webpilot log ===\n")
	fl.write(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))
	return fl, nil
}

// Path returns the file being written.
func (fl *FileLogger) Path() string {
	return fl.runFile
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

func (fl *FileLogger) LogTrace(message string) { fl.logWithLevel("TRACE", message) }
func (fl *FileLogger) LogDebug(message string) { fl.logWithLevel("DEBUG", message) }
func (fl *FileLogger) LogInfo(message string)  { fl.logWithLevel("INFO", message) }
func (fl *FileLogger) LogWarn(message string)  { fl.logWithLevel("WARN", message) }
func (fl *FileLogger) LogError(message string) { fl.logWithLevel("ERROR", message) }

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}
	fl.write(fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), level, message))
}

// LogRunStart writes a run header including the full instructions.
func (fl *FileLogger) LogRunStart(run *models.TaskRun) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n--- Run %s ---\n", run.ID))
	sb.WriteString(fmt.Sprintf("Command: %s\n", run.Command))
	sb.WriteString(fmt.Sprintf("Mode: %s\n", run.Mode))
	sb.WriteString("Instructions:\n")
	sb.WriteString(run.Instructions)
	sb.WriteString("\n\n")
	fl.write(sb.String())
}

// LogToolCall records the full tool input at info level.
func (fl *FileLogger) LogToolCall(name string, input map[string]interface{}) {
	fl.LogInfo(fmt.Sprintf("tool_call %s %s", name, previewInput(input)))
}

// LogToolResult records the tool outcome without truncation.
func (fl *FileLogger) LogToolResult(name string, ok bool, summary string) {
	if ok {
		fl.LogInfo(fmt.Sprintf("tool_result %s ok: %s", name, summary))
		return
	}
	fl.LogWarn(fmt.Sprintf("tool_result %s error: %s", name, summary))
}

// LogRunComplete writes the sealed outcome and every recorded action.
func (fl *FileLogger) LogRunComplete(run *models.TaskRun) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("--- Run %s: %s (%s) ---\n", run.ID, run.Outcome, formatDuration(run.Duration)))
	if run.Error != "" {
		sb.WriteString(fmt.Sprintf("Error [%s]: %s\n", run.ErrorKind, run.Error))
	}
	for i, a := range run.Actions {
		status := "ok"
		if !a.Success {
			status = "FAILED"
		}
		sb.WriteString(fmt.Sprintf("  %d. %s %s", i+1, a.Action, status))
		if a.Error != "" {
			sb.WriteString(": " + a.Error)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	fl.write(sb.String())
}

// Close flushes and closes the log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog == nil {
		return nil
	}
	if err := fl.runLog.Sync(); err != nil {
		return fmt.Errorf("failed to sync run log: %w", err)
	}
	if err := fl.runLog.Close(); err != nil {
		return fmt.Errorf("failed to close run log: %w", err)
	}
	fl.runLog = nil
	return nil
}

func (fl *FileLogger) write(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		fl.runLog.Sync()
	}
}
