package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harrison/webpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoggerCreatesRunFileAndSymlink(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")

	logger, err := NewFileLogger(logDir, "info")
	require.NoError(t, err)
	defer logger.Close()

	assert.Regexp(t, `run-\d{8}-\d{6}\.log$`, logger.Path())

	target, err := os.Readlink(filepath.Join(logDir, "latest.log"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(logger.Path()), target)
}

func TestFileLoggerWritesRunEvents(t *testing.T) {
	logDir := t.TempDir()
	logger, err := NewFileLogger(logDir, "debug")
	require.NoError(t, err)

	sealed := time.Now()
	run := &models.TaskRun{
		ID:           "task_7_deadbeef",
		Command:      "download statement",
		Mode:         models.ModeFast,
		Instructions: "1. Open the portal",
	}
	logger.LogRunStart(run)
	logger.LogToolCall("navigate", map[string]interface{}{"url": "https://bank.example"})
	logger.LogToolResult("navigate", true, "Navigated to https://bank.example")

	run.Actions = []models.ActionRecord{
		{Action: "navigate", Success: true},
		{Action: "click", Success: false, Error: "Element not found"},
	}
	run.Outcome = models.OutcomeFailure
	run.Error = "gave up"
	run.ErrorKind = models.ErrorKindToolError
	run.SealedAt = &sealed
	logger.LogRunComplete(run)
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "=== webpilot log ===")
	assert.Contains(t, content, "--- Run task_7_deadbeef ---")
	assert.Contains(t, content, "1. Open the portal")
	assert.Contains(t, content, `tool_call navigate {"url":"https://bank.example"}`)
	assert.Contains(t, content, "Error [tool_error]: gave up")
	assert.Contains(t, content, "2. click FAILED: Element not found")
}

func TestFileLoggerLevelFiltering(t *testing.T) {
	logger, err := NewFileLogger(t.TempDir(), "warn")
	require.NoError(t, err)

	logger.LogInfo("hidden")
	logger.LogWarn("shown")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "hidden"))
	assert.Contains(t, string(data), "[WARN] shown")
}

func TestFileLoggerCloseIsIdempotent(t *testing.T) {
	logger, err := NewFileLogger(t.TempDir(), "info")
	require.NoError(t, err)

	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
	assert.NotPanics(t, func() { logger.LogInfo("after close") })
}
