package agent

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func TestTaskContextLifecycle(t *testing.T) {
	c := NewTaskContext(0)
	c.clock = fixedClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, StatusIdle, c.Status())
	assert.Nil(t, c.Current())
	assert.ErrorIs(t, c.Complete("done"), ErrNoActiveTask)

	c.Start("download_tax_form", map[string]string{"form": "941"})
	cur := c.Current()
	require.NotNil(t, cur)
	assert.Equal(t, StatusRunning, cur.Status)
	assert.Equal(t, "941", cur.Parameters["form"])

	require.NoError(t, c.Complete("saved downloads/941.pdf"))
	assert.Equal(t, StatusIdle, c.Status())

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, StatusCompleted, history[0].Status)
	assert.Equal(t, "saved downloads/941.pdf", history[0].Result)
	assert.True(t, history[0].EndedAt.After(history[0].StartedAt))
}

func TestTaskContextStartInterruptsRunningTask(t *testing.T) {
	c := NewTaskContext(10)
	c.Start("login", nil)
	c.Start("download", nil)

	cur := c.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "download", cur.TaskType)
	assert.Equal(t, StatusRunning, cur.Status)

	history := c.History()
	require.Len(t, history, 1)
	assert.Equal(t, "login", history[0].TaskType)
	assert.Equal(t, StatusFailed, history[0].Status)
	assert.Equal(t, InterruptedReason, history[0].Result)
}

func TestTaskContextNeverHasTwoRunning(t *testing.T) {
	c := NewTaskContext(100)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Start("task", nil)
		}()
	}
	wg.Wait()

	running := 0
	if c.Status() == StatusRunning {
		running++
	}
	for _, s := range c.History() {
		assert.NotEqual(t, StatusRunning, s.Status)
	}
	assert.Equal(t, 1, running)
	assert.Len(t, c.History(), 19)
}

func TestTaskContextHistoryIsBounded(t *testing.T) {
	c := NewTaskContext(3)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		c.Start(name, nil)
		require.NoError(t, c.Fail("boom"))
	}

	history := c.History()
	require.Len(t, history, 3)
	assert.Equal(t, "c", history[0].TaskType)
	assert.Equal(t, "e", history[2].TaskType)
}

func TestTaskContextReturnsCopies(t *testing.T) {
	params := map[string]string{"form": "941"}
	c := NewTaskContext(5)
	c.Start("download", params)

	params["form"] = "940"
	cur := c.Current()
	assert.Equal(t, "941", cur.Parameters["form"], "caller mutation does not reach the context")

	cur.Parameters["form"] = "w2"
	cur.Status = StatusFailed
	assert.Equal(t, "941", c.Current().Parameters["form"])
	assert.Equal(t, StatusRunning, c.Status())
}

func TestTaskContextValues(t *testing.T) {
	c := NewTaskContext(1)
	_, ok := c.Get("command")
	assert.False(t, ok)

	c.Set("command", "download form 941")
	v, ok := c.Get("command")
	require.True(t, ok)
	assert.Equal(t, "download form 941", v)
}
