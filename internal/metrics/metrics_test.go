package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()

	c.StrategyAttempt("submit_form", "click_submit", false)
	c.StrategyAttempt("submit_form", "form_submit", true)
	c.DownloadAttempt("forbidden")
	c.DownloadAttempt("forbidden")
	c.DownloadAttempt("ok")
	c.ToolCall("navigate", true)
	c.ToolCall("click", false)
	c.RunFinished("success", "", 4, 12*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.strategyAttempts.WithLabelValues("submit_form", "click_submit", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.strategyAttempts.WithLabelValues("submit_form", "form_submit", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.downloadAttempts.WithLabelValues("forbidden")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolCallsTotal.WithLabelValues("click", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("success", "none")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.loopIterations))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.StrategyAttempt("a", "b", true)
		c.DownloadAttempt("ok")
		c.ToolCall("x", false)
		c.RunFinished("failure", "max_iterations", 3, time.Second)
	})
	assert.NoError(t, c.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
	assert.Nil(t, c.Registry())
}

func TestWriteTextfile(t *testing.T) {
	c := NewCollector()
	c.RunFinished("failure", "max_iterations", 200, time.Minute)

	path := filepath.Join(t.TempDir(), "textfile", "webpilot.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `webpilot_runs_total{error_kind="max_iterations",outcome="failure"} 1`)
	assert.Contains(t, string(data), "webpilot_loop_iterations_count 1")
}

func TestWriteTextfileEmptyPath(t *testing.T) {
	assert.NoError(t, NewCollector().WriteTextfile(""))
}
