package instructions

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/harrison/webpilot/internal/learning"
	"github.com/harrison/webpilot/internal/ledger"
	"github.com/harrison/webpilot/internal/llm"
	"github.com/harrison/webpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModel struct {
	classify    string
	classifyErr error
	rewrite     string
	rewriteErr  error

	jsonPrompts []string
	textPrompts []string
	systems     []string
}

func (m *stubModel) Generate(ctx context.Context, system, prompt string) (string, error) {
	m.systems = append(m.systems, system)
	m.textPrompts = append(m.textPrompts, prompt)
	if m.rewriteErr != nil {
		return "", m.rewriteErr
	}
	return m.rewrite, nil
}

func (m *stubModel) GenerateJSON(ctx context.Context, system, prompt string, result interface{}) (string, error) {
	m.jsonPrompts = append(m.jsonPrompts, prompt)
	if m.classifyErr != nil {
		return "", m.classifyErr
	}
	if err := llm.DecodeJSON(m.classify, result); err != nil {
		return m.classify, err
	}
	return m.classify, nil
}

type stubAnalyzer struct {
	analysis *learning.Analysis
	err      error
	commands []string
	limits   []int
}

func (a *stubAnalyzer) AnalyzeLedger(ctx context.Context, source learning.RunSource, command string, limit int) (*learning.Analysis, error) {
	a.commands = append(a.commands, command)
	a.limits = append(a.limits, limit)
	return a.analysis, a.err
}

type noRuns struct{}

func (noRuns) List(ctx context.Context, opts ledger.ListOptions) ([]*models.TaskRun, error) {
	return nil, nil
}

func taxCatalog() *Catalog {
	return &Catalog{
		Tasks: []Task{
			{ID: "default", Description: "Anything else", Template: DefaultTaskTemplate},
			{ID: "download_tax_form", Description: "Download a payroll tax form", Template: "tasks/download_tax_form.txt", RequiredParams: []string{"form", "quarter"}},
		},
		DefaultTask: "default",
	}
}

func newTaxRepo(t *testing.T) *Repository {
	dir := t.TempDir()
	writeTemplate(t, dir, "tasks/download_tax_form.txt", "Download form {{form}} for {{ quarter }}.\nCommand: {{command}}")
	writeTemplate(t, dir, SystemTemplatePath, "Rewrite instructions for: {{command}}")
	return NewRepository(dir)
}

const taxCommand = "download form 941 for Q1"

func TestAnalyzeCommand(t *testing.T) {
	t.Run("classified by the model", func(t *testing.T) {
		model := &stubModel{classify: "```json\n{\"taskType\": \"download_tax_form\", \"parameters\": {\"form\": 941, \"quarter\": \"Q1\", \"command\": \"ignored\"}}\n```"}
		g := NewGenerator(GeneratorConfig{Catalog: taxCatalog(), Repository: newTaxRepo(t), Model: model})

		task, params := g.AnalyzeCommand(context.Background(), taxCommand)
		assert.Equal(t, "download_tax_form", task.ID)
		assert.Equal(t, map[string]string{"form": "941", "quarter": "Q1", "command": taxCommand}, params)

		require.Len(t, model.jsonPrompts, 1)
		assert.Contains(t, model.jsonPrompts[0], "- download_tax_form: Download a payroll tax form (parameters: form, quarter)")
		assert.Contains(t, model.jsonPrompts[0], "Command: "+taxCommand)
	})

	t.Run("unknown task type falls back to default", func(t *testing.T) {
		model := &stubModel{classify: `{"taskType": "book_flight", "parameters": {"to": "LIS"}}`}
		g := NewGenerator(GeneratorConfig{Catalog: taxCatalog(), Repository: newTaxRepo(t), Model: model})

		task, params := g.AnalyzeCommand(context.Background(), taxCommand)
		assert.Equal(t, "default", task.ID)
		assert.Equal(t, map[string]string{"command": taxCommand}, params)
	})

	t.Run("unparsable reply falls back to default", func(t *testing.T) {
		model := &stubModel{classify: "I think this is a tax task."}
		g := NewGenerator(GeneratorConfig{Catalog: taxCatalog(), Repository: newTaxRepo(t), Model: model})

		task, _ := g.AnalyzeCommand(context.Background(), taxCommand)
		assert.Equal(t, "default", task.ID)
	})

	t.Run("single task catalog skips the model", func(t *testing.T) {
		model := &stubModel{}
		g := NewGenerator(GeneratorConfig{Repository: newTaxRepo(t), Model: model})

		task, params := g.AnalyzeCommand(context.Background(), taxCommand)
		assert.Equal(t, DefaultTaskID, task.ID)
		assert.Equal(t, taxCommand, params["command"])
		assert.Empty(t, model.jsonPrompts)
	})
}

func TestGenerateFastRendersTemplate(t *testing.T) {
	model := &stubModel{classify: `{"taskType": "download_tax_form", "parameters": {"form": "941"}}`}
	analyzer := &stubAnalyzer{}
	g := NewGenerator(GeneratorConfig{
		Catalog:    taxCatalog(),
		Repository: newTaxRepo(t),
		Model:      model,
		Analyzer:   analyzer,
		Runs:       noRuns{},
	})

	out, err := g.Generate(context.Background(), taxCommand, models.ModeFast)
	require.NoError(t, err)

	assert.Equal(t, SourceTemplate, out.Source)
	assert.Equal(t, "Download form 941 for {{ quarter }}.\nCommand: "+taxCommand, out.Instructions)
	assert.Equal(t, "tasks/download_tax_form.txt", out.TemplatePath)
	assert.Equal(t, []string{"quarter"}, out.MissingParams)
	assert.Empty(t, model.textPrompts, "fast mode makes no rewrite call")
	assert.Empty(t, analyzer.commands, "fast mode skips failure analysis")
	assert.Empty(t, out.SavedPath)
}

func TestGenerateAdaptiveUsesReplacementInstructions(t *testing.T) {
	model := &stubModel{classify: `{"taskType": "download_tax_form", "parameters": {"form": "941", "quarter": "Q1"}}`}
	analyzer := &stubAnalyzer{analysis: &learning.Analysis{
		Suggestions:     []string{"wait for the login button"},
		NewInstructions: "1. Wait for #login-btn\n2. Click it",
	}}
	g := NewGenerator(GeneratorConfig{
		Catalog:       taxCatalog(),
		Repository:    newTaxRepo(t),
		Model:         model,
		Analyzer:      analyzer,
		Runs:          noRuns{},
		AnalysisLimit: 25,
	})

	out, err := g.Generate(context.Background(), taxCommand, models.ModeAdaptive)
	require.NoError(t, err)

	assert.Equal(t, SourceAnalysis, out.Source)
	assert.Equal(t, "1. Wait for #login-btn\n2. Click it", out.Instructions)
	assert.Same(t, analyzer.analysis, out.Analysis)
	assert.Equal(t, []string{taxCommand}, analyzer.commands)
	assert.Equal(t, []int{25}, analyzer.limits)
	assert.Empty(t, model.textPrompts, "replacement text is used verbatim")
}

func TestGenerateAdaptiveFoldsSuggestions(t *testing.T) {
	model := &stubModel{
		classify: `{"taskType": "download_tax_form", "parameters": {"form": "941", "quarter": "Q1"}}`,
		rewrite:  "  1. Open the portal\n2. Wait for the form list  ",
	}
	analyzer := &stubAnalyzer{analysis: &learning.Analysis{
		Suggestions: []string{"Wait for #login-btn before clicking", "Use find_expiring_resource for the PDF"},
	}}
	g := NewGenerator(GeneratorConfig{Catalog: taxCatalog(), Repository: newTaxRepo(t), Model: model, Analyzer: analyzer, Runs: noRuns{}})

	out, err := g.Generate(context.Background(), taxCommand, models.ModeAdaptive)
	require.NoError(t, err)

	assert.Equal(t, SourceAnalysis, out.Source)
	assert.Equal(t, "1. Open the portal\n2. Wait for the form list", out.Instructions)

	require.Len(t, model.textPrompts, 1)
	prompt := model.textPrompts[0]
	assert.True(t, strings.HasPrefix(prompt, "Download form 941 for Q1."))
	assert.Contains(t, prompt, suggestionsHeading+"\n1. Wait for #login-btn before clicking\n2. Use find_expiring_resource for the PDF")
	assert.Equal(t, "Rewrite instructions for: "+taxCommand, model.systems[0])
}

func TestGenerateAdaptiveWithoutSignal(t *testing.T) {
	t.Run("augmented template rewritten by the model", func(t *testing.T) {
		model := &stubModel{classify: `{"taskType": "download_tax_form", "parameters": {"form": "941", "quarter": "Q1"}}`, rewrite: "Robust steps"}
		analyzer := &stubAnalyzer{analysis: &learning.Analysis{}}
		g := NewGenerator(GeneratorConfig{Catalog: taxCatalog(), Repository: newTaxRepo(t), Model: model, Analyzer: analyzer, Runs: noRuns{}})

		out, err := g.Generate(context.Background(), taxCommand, models.ModeAdaptive)
		require.NoError(t, err)
		assert.Equal(t, SourceEnhanced, out.Source)
		assert.Equal(t, "Robust steps", out.Instructions)
		assert.Nil(t, out.Analysis)

		require.Len(t, model.textPrompts, 1)
		assert.Contains(t, model.textPrompts[0], "Additional Requirements:\n- Add extra checks for web elements before interacting with them")
		assert.Contains(t, model.textPrompts[0], "- Add recovery strategies for potential failures")
	})

	t.Run("no model uses the augmented template directly", func(t *testing.T) {
		g := NewGenerator(GeneratorConfig{Repository: NewRepository(t.TempDir())})

		out, err := g.Generate(context.Background(), "check payroll", models.ModeAdaptive)
		require.NoError(t, err)
		assert.Equal(t, SourceEnhanced, out.Source)
		assert.Contains(t, out.Instructions, "check payroll")
		for _, d := range robustnessDirectives {
			assert.Contains(t, out.Instructions, "- "+d)
		}
	})

	t.Run("analysis and rewrite errors degrade to the augmented template", func(t *testing.T) {
		model := &stubModel{classify: `{"taskType": "download_tax_form", "parameters": {}}`, rewriteErr: errors.New("overloaded")}
		analyzer := &stubAnalyzer{err: errors.New("database is locked")}
		g := NewGenerator(GeneratorConfig{Catalog: taxCatalog(), Repository: newTaxRepo(t), Model: model, Analyzer: analyzer, Runs: noRuns{}})

		out, err := g.Generate(context.Background(), taxCommand, models.ModeAdaptive)
		require.NoError(t, err)
		assert.Equal(t, SourceEnhanced, out.Source)
		assert.True(t, strings.HasPrefix(out.Instructions, "Download form {{form}}"))
		assert.Contains(t, out.Instructions, "Additional Requirements:")
	})
}

func TestGenerateSavesInstructions(t *testing.T) {
	repo := NewRepository(t.TempDir())
	g := NewGenerator(GeneratorConfig{Repository: repo, SaveGenerated: true})

	out, err := g.Generate(context.Background(), "check payroll", models.ModeFast)
	require.NoError(t, err)
	require.NotEmpty(t, out.SavedPath)

	data, err := os.ReadFile(out.SavedPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Original Command: check payroll")
	assert.True(t, strings.HasSuffix(string(data), out.Instructions))
}

func TestGenerateMissingTemplate(t *testing.T) {
	catalog := &Catalog{Tasks: []Task{{ID: "login", Template: "tasks/login.txt"}}}
	g := NewGenerator(GeneratorConfig{Catalog: catalog, Repository: NewRepository(t.TempDir())})

	_, err := g.Generate(context.Background(), "log in", models.ModeFast)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tasks/login.txt")
}
