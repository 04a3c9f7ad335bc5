package logger

import (
	"bytes"
	"testing"

	"github.com/harrison/webpilot/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &bytes.Buffer{}, &bytes.Buffer{}
	m := NewMultiLogger(NewConsoleLogger(a, "debug"), nil, NewConsoleLogger(b, "warn"))
	assert.Len(t, m.loggers, 2, "nil loggers are skipped")

	m.LogDebug("probing selector")
	m.LogWarn("retrying click")
	m.LogToolResult("click", false, "element not found")
	m.LogRunComplete(&models.TaskRun{ID: "task_1_abcd", Outcome: models.OutcomeFailure, ErrorKind: models.ErrorKindToolError})

	assert.Contains(t, a.String(), "probing selector")
	assert.Contains(t, a.String(), "retrying click")
	assert.NotContains(t, b.String(), "probing selector", "each logger keeps its own level")
	assert.Contains(t, b.String(), "retrying click")
}

func TestMultiLoggerEmpty(t *testing.T) {
	m := NewMultiLogger()
	assert.NotPanics(t, func() {
		m.LogInfo("nothing listens")
		m.LogRunStart(&models.TaskRun{ID: "task_1_abcd"})
	})
}
