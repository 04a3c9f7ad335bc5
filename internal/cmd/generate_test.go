package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/harrison/webpilot/internal/instructions"
	"github.com/harrison/webpilot/internal/learning"
	"github.com/harrison/webpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTaxTemplates(t *testing.T, home string) {
	t.Helper()
	dir := filepath.Join(home, "templates")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tasks"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.yaml"), []byte(`default_task: download_tax_form
tasks:
  - id: download_tax_form
    description: Download an IRS form
    template: tasks/download_tax_form.txt
    required_params: [form]
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks", "download_tax_form.txt"),
		[]byte("Goal: {{command}}\n1. Open irs.gov\n2. Find form {{form}}\n"), 0644))
}

func TestGenerateFast(t *testing.T) {
	home := testHome(t, "")
	writeTaxTemplates(t, home)

	out, err := execute(t, "", "generate", "download", "form", "941")
	require.NoError(t, err)
	assert.Contains(t, out, "Task: download_tax_form")
	assert.Contains(t, out, "Goal: download form 941")
	assert.Contains(t, out, "Missing parameters: form")
	assert.Contains(t, out, "Saved to ")

	entries, err := os.ReadDir(filepath.Join(home, "templates", "generated"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGenerateAdaptiveWithoutModel(t *testing.T) {
	home := testHome(t, "templates:\n  save_generated: false\n")
	writeTaxTemplates(t, home)

	out, err := execute(t, "", "generate", "--mode", "adaptive", "--json", "download form 941")
	require.NoError(t, err)

	var g instructions.Generated
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Equal(t, "download_tax_form", g.TaskType)
	assert.Equal(t, instructions.SourceEnhanced, g.Source)
	assert.Contains(t, g.Instructions, "Additional Requirements:")
	assert.Empty(t, g.SavedPath)
	assert.NoDirExists(t, filepath.Join(home, "templates", "generated"))
}

func TestGenerateBuiltinDefault(t *testing.T) {
	testHome(t, "")

	out, err := execute(t, "", "generate", "--json", "check the weather")
	require.NoError(t, err)

	var g instructions.Generated
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Equal(t, instructions.DefaultTaskID, g.TaskType)
	assert.Contains(t, g.Instructions, "check the weather")
}

func TestTasksLists(t *testing.T) {
	home := testHome(t, "")
	writeTaxTemplates(t, home)

	_, err := execute(t, "", "generate", "download form 941")
	require.NoError(t, err)

	out, err := execute(t, "", "tasks", "--generated", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "download_tax_form (default)")
	assert.Contains(t, out, "requires: form")
	assert.Contains(t, out, "Recently generated (1)")
	assert.Contains(t, out, "download form 941")
}

func TestAnalyzeEmptyLedger(t *testing.T) {
	testHome(t, "")

	out, err := execute(t, "", "analyze")
	require.NoError(t, err)
	assert.Contains(t, out, "No failed runs to analyze.")
}

func TestAnalyzeCountsPatternsWithoutModel(t *testing.T) {
	home := testHome(t, "")
	for i := 0; i < 3; i++ {
		seedRun(t, home, "download form 941", models.OutcomeFailure,
			models.NewRunError(models.ErrorKindToolError, "click failed", nil),
			models.ActionRecord{Action: "navigate", Success: true},
			models.ActionRecord{Action: "click", Success: false, Error: "element not found: #submit"},
		)
	}
	seedRun(t, home, "download form 941", models.OutcomeSuccess, nil)

	out, err := execute(t, "", "analyze", "--json", "--command", "download form 941")
	require.NoError(t, err)

	var analysis learning.Analysis
	require.NoError(t, json.Unmarshal([]byte(out), &analysis))
	require.NotNil(t, analysis.Summary)
	assert.Equal(t, 3, analysis.Summary.FailedRuns)
	assert.NotEmpty(t, analysis.Summary.ErrorPatterns)
	assert.NotEmpty(t, analysis.FailurePatterns)
	assert.Empty(t, analysis.Suggestions)

	out, err = execute(t, "", "analyze")
	require.NoError(t, err)
	assert.Contains(t, out, "Failure analysis (3 failed runs)")
	assert.Contains(t, out, "Recurring errors:")
}
