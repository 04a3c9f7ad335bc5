package logger

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harrison/webpilot/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestNewConsoleLogger(t *testing.T) {
	t.Run("with valid writer", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewConsoleLogger(buf, "DEBUG")

		assert.Equal(t, buf, logger.writer)
		assert.Equal(t, "debug", logger.logLevel)
		assert.False(t, logger.colorOutput, "buffers are never colorized")
	})

	t.Run("with nil writer", func(t *testing.T) {
		logger := NewConsoleLogger(nil, "info")
		assert.NotPanics(t, func() { logger.LogError("dropped") })
	})

	t.Run("invalid level defaults to info", func(t *testing.T) {
		assert.Equal(t, "info", NewConsoleLogger(nil, "verbose").logLevel)
	})
}

func TestConsoleLoggerLevelFiltering(t *testing.T) {
	tests := []struct {
		level    string
		visible  []string
		filtered []string
	}{
		{level: "trace", visible: []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}},
		{level: "info", visible: []string{"INFO", "WARN", "ERROR"}, filtered: []string{"TRACE", "DEBUG"}},
		{level: "error", visible: []string{"ERROR"}, filtered: []string{"TRACE", "DEBUG", "INFO", "WARN"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := NewConsoleLogger(buf, tt.level)
			logger.LogTrace("m")
			logger.LogDebug("m")
			logger.LogInfo("m")
			logger.LogWarn("m")
			logger.LogError("m")

			out := buf.String()
			for _, lvl := range tt.visible {
				assert.Contains(t, out, "["+lvl+"] m")
			}
			for _, lvl := range tt.filtered {
				assert.NotContains(t, out, "["+lvl+"]")
			}
		})
	}
}

func TestConsoleLoggerLineFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	NewConsoleLogger(buf, "info").LogInfo("hello")

	line := buf.String()
	assert.Regexp(t, `^\[\d{2}:\d{2}:\d{2}\] \[INFO\] hello\n$`, line)
}

func TestConsoleLoggerRunEvents(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "debug")

	run := &models.TaskRun{ID: "task_1_abcdef12", Command: "get invoice", Mode: models.ModeFast}
	logger.LogRunStart(run)
	logger.LogToolCall("navigate", map[string]interface{}{"url": "https://example.com"})
	logger.LogToolResult("click", false, `Element not found: "#go"`)

	run.Outcome = models.OutcomeFailure
	run.Duration = 2500 * time.Millisecond
	run.ErrorKind = models.ErrorKindMaxIterations
	run.Error = "max iterations reached"
	logger.LogRunComplete(run)

	out := buf.String()
	assert.Contains(t, out, "Starting run task_1_abcdef12 (fast mode): get invoice")
	assert.Contains(t, out, `[DEBUG] Tool navigate {"url":"https://example.com"}`)
	assert.Contains(t, out, `[WARN] Tool click failed: Element not found: "#go"`)
	assert.Contains(t, out, "[ERROR] Run task_1_abcdef12 finished: failure in 2.5s (0 actions) [max_iterations] max iterations reached")
}

func TestConsoleLoggerTruncatesLargeInput(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "debug")
	logger.LogToolCall("evaluate", map[string]interface{}{"script": strings.Repeat("x", 500)})

	assert.Contains(t, buf.String(), "...")
	assert.Less(t, len(buf.String()), 300)
}

func TestConsoleLoggerConcurrentWrites(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "info")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.LogInfo("line")
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, strings.Count(buf.String(), "[INFO] line\n"))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{d: 250 * time.Millisecond, want: "250ms"},
		{d: 2300 * time.Millisecond, want: "2.3s"},
		{d: 65 * time.Second, want: "1m5s"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.d))
		})
	}
}

func TestMultiLoggerFansOutAllLevels(t *testing.T) {
	a, b := &bytes.Buffer{}, &bytes.Buffer{}
	multi := NewMultiLogger(NewConsoleLogger(a, "info"), nil, NewConsoleLogger(b, "info"))

	multi.LogWarn("careful")
	multi.LogRunStart(&models.TaskRun{ID: "task_x", Mode: models.ModeAdaptive})

	for _, buf := range []*bytes.Buffer{a, b} {
		assert.Contains(t, buf.String(), "[WARN] careful")
		assert.Contains(t, buf.String(), "Starting run task_x (adaptive mode)")
	}
}
