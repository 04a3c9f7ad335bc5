package cmd

import (
	"encoding/json"
	"testing"

	"github.com/harrison/webpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerListEmpty(t *testing.T) {
	testHome(t, "")

	out, err := execute(t, "", "ledger", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestLedgerListFilters(t *testing.T) {
	home := testHome(t, "")
	okID := seedRun(t, home, "download form 941", models.OutcomeSuccess, nil,
		models.ActionRecord{Action: "navigate", Success: true})
	failID := seedRun(t, home, "download form 940", models.OutcomeFailure,
		models.NewRunError(models.ErrorKindMaxIterations, "max iterations reached", models.ErrMaxIterations))

	out, err := execute(t, "", "ledger", "list")
	require.NoError(t, err)
	assert.Contains(t, out, okID)
	assert.Contains(t, out, failID)

	out, err = execute(t, "", "ledger", "list", "--outcome", "failure")
	require.NoError(t, err)
	assert.NotContains(t, out, okID)
	assert.Contains(t, out, failID)

	out, err = execute(t, "", "ledger", "list", "--command", "download form 941", "--json")
	require.NoError(t, err)
	var runs []*models.TaskRun
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, okID, runs[0].ID)
	assert.Len(t, runs[0].Actions, 1)
}

func TestLedgerListRejectsUnknownOutcome(t *testing.T) {
	testHome(t, "")

	_, err := execute(t, "", "ledger", "list", "--outcome", "pending")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid outcome")
}

func TestLedgerShow(t *testing.T) {
	home := testHome(t, "")
	id := seedRun(t, home, "download form 941", models.OutcomeFailure,
		models.NewRunError(models.ErrorKindToolError, "click failed", nil),
		models.ActionRecord{Action: "navigate", Success: true},
		models.ActionRecord{Action: "click", Success: false, Error: "element not found: #submit"},
	)

	out, err := execute(t, "", "ledger", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Run "+id)
	assert.Contains(t, out, "download form 941")
	assert.Contains(t, out, "failure")
	assert.Contains(t, out, "element not found: #submit")
	assert.Contains(t, out, "Actions (2)")

	_, err = execute(t, "", "ledger", "show", "task_0_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLedgerClear(t *testing.T) {
	home := testHome(t, "")
	seedRun(t, home, "a", models.OutcomeSuccess, nil)
	seedRun(t, home, "b", models.OutcomeSuccess, nil)

	t.Run("declined", func(t *testing.T) {
		out, err := execute(t, "no\n", "ledger", "clear")
		require.NoError(t, err)
		assert.Contains(t, out, "Operation cancelled.")
	})

	t.Run("confirmed", func(t *testing.T) {
		out, err := execute(t, "yes\n", "ledger", "clear")
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted 2 run(s).")
	})

	t.Run("skip prompt", func(t *testing.T) {
		out, err := execute(t, "", "ledger", "clear", "--yes")
		require.NoError(t, err)
		assert.Contains(t, out, "Deleted 0 run(s).")
	})
}

func TestLedgerJSONBackend(t *testing.T) {
	testHome(t, "")

	out, err := execute(t, "", "--ledger-backend", "json", "ledger", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}
