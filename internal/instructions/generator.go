package instructions

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/harrison/webpilot/internal/learning"
	"github.com/harrison/webpilot/internal/models"
)

// Source records how a set of instructions was produced.
type Source string

const (
	// SourceTemplate is the rendered task template, unchanged.
	SourceTemplate Source = "template"
	// SourceAnalysis comes from failure analysis, either the analyzer's
	// replacement text or a rewrite folding in its suggestions.
	SourceAnalysis Source = "analysis"
	// SourceEnhanced is the template plus generic robustness directives.
	SourceEnhanced Source = "enhanced"
)

// CommandAnalysisPath is the optional system prompt for classifying commands.
const CommandAnalysisPath = "system/command_analysis.txt"

// robustnessDirectives are appended in adaptive mode when failure analysis
// has nothing to offer.
var robustnessDirectives = []string{
	"Add extra checks for web elements before interacting with them",
	"Use more robust selectors when possible",
	"Implement longer waits for dynamic content",
	"Add recovery strategies for potential failures",
}

const suggestionsHeading = "Based on analysis of previous tasks, please incorporate these improvements:"

const commandAnalysisSystem = "You classify browser automation commands. Reply with a single JSON object and nothing else."

// Generated is the result of instruction generation.
type Generated struct {
	TaskType      string             `json:"taskType"`
	Parameters    map[string]string  `json:"parameters"`
	Instructions  string             `json:"instructions"`
	TemplatePath  string             `json:"templatePath"`
	Source        Source             `json:"source"`
	MissingParams []string           `json:"missingParams,omitempty"`
	SavedPath     string             `json:"savedPath,omitempty"`
	Analysis      *learning.Analysis `json:"analysis,omitempty"`
}

// Model is the text completion surface. *llm.Service implements it.
type Model interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	GenerateJSON(ctx context.Context, system, prompt string, result interface{}) (string, error)
}

// FailureAnalyzer mines the ledger. *learning.Analyzer implements it.
type FailureAnalyzer interface {
	AnalyzeLedger(ctx context.Context, source learning.RunSource, command string, limit int) (*learning.Analysis, error)
}

// Logger is the logging surface used by the generator.
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
}

// GeneratorConfig wires a Generator. Only Repository is required; a nil
// Catalog means DefaultCatalog, a nil Model disables classification and
// rewrites, and a nil Analyzer or Runs disables failure analysis.
type GeneratorConfig struct {
	Catalog       *Catalog
	Repository    *Repository
	Model         Model
	Analyzer      FailureAnalyzer
	Runs          learning.RunSource
	AnalysisLimit int
	SaveGenerated bool
	Logger        Logger
}

// Generator produces instructions for commands.
type Generator struct {
	catalog  *Catalog
	repo     *Repository
	model    Model
	analyzer FailureAnalyzer
	runs     learning.RunSource
	limit    int
	save     bool
	logger   Logger
}

// NewGenerator creates a generator from cfg.
func NewGenerator(cfg GeneratorConfig) *Generator {
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Generator{
		catalog:  catalog,
		repo:     cfg.Repository,
		model:    cfg.Model,
		analyzer: cfg.Analyzer,
		runs:     cfg.Runs,
		limit:    cfg.AnalysisLimit,
		save:     cfg.SaveGenerated,
		logger:   cfg.Logger,
	}
}

// Catalog returns the task catalog.
func (g *Generator) Catalog() *Catalog {
	return g.catalog
}

// AnalyzeCommand classifies command into a catalog task and extracts its
// parameters. With a single task or no model it returns the default task.
// Unknown task types and unparsable replies also fall back to the default
// task. The "command" parameter is always set to the raw command.
func (g *Generator) AnalyzeCommand(ctx context.Context, command string) (Task, map[string]string) {
	params := map[string]string{}
	task := g.catalog.Default()

	if g.model != nil && len(g.catalog.Tasks) > 1 {
		var reply struct {
			TaskType   string                 `json:"taskType"`
			Parameters map[string]interface{} `json:"parameters"`
		}
		_, err := g.model.GenerateJSON(ctx, g.commandAnalysisSystem(), g.commandAnalysisPrompt(command), &reply)
		switch {
		case err != nil:
			g.warn(fmt.Sprintf("Command analysis failed, using task %q: %v", task.ID, err))
		default:
			if t, ok := g.catalog.Find(strings.TrimSpace(reply.TaskType)); ok {
				task = t
				for k, v := range reply.Parameters {
					if v != nil {
						params[k] = stringify(v)
					}
				}
			} else {
				g.warn(fmt.Sprintf("Unknown task type %q, using task %q", reply.TaskType, task.ID))
			}
		}
	}

	params["command"] = command
	g.debug(fmt.Sprintf("Command parameters: %s", stringify(toAny(params))))
	return task, params
}

// Generate produces instructions for command in mode.
func (g *Generator) Generate(ctx context.Context, command string, mode models.ExecutionMode) (*Generated, error) {
	g.info(fmt.Sprintf("Generating instructions in %s mode", mode))

	task, params := g.AnalyzeCommand(ctx, command)
	g.info(fmt.Sprintf("Identified task type: %s", task.ID))

	tmpl, err := g.repo.Template(task.Template)
	if err != nil {
		return nil, err
	}

	out := &Generated{
		TaskType:      task.ID,
		Parameters:    params,
		TemplatePath:  task.Template,
		MissingParams: MissingParams(task.RequiredParams, params),
	}
	if len(out.MissingParams) > 0 {
		g.warn(fmt.Sprintf("Task %s is missing parameters: %s", task.ID, strings.Join(out.MissingParams, ", ")))
	}

	rendered := Render(tmpl, params)
	if mode == models.ModeAdaptive {
		g.adaptive(ctx, command, rendered, out)
	} else {
		out.Instructions = rendered
		out.Source = SourceTemplate
	}

	if g.save {
		path, err := g.repo.SaveGenerated(command, task.ID, out.Instructions)
		if err != nil {
			g.warn(err.Error())
		} else {
			out.SavedPath = path
		}
	}
	return out, nil
}

func (g *Generator) adaptive(ctx context.Context, command, rendered string, out *Generated) {
	system := Render(g.repo.SystemTemplate(), map[string]string{"command": command})

	if analysis := g.analyze(ctx, command); analysis.HasSignal() {
		out.Analysis = analysis
		if analysis.NewInstructions != "" {
			g.info("Using replacement instructions from failure analysis")
			out.Instructions = analysis.NewInstructions
			out.Source = SourceAnalysis
			return
		}

		g.info(fmt.Sprintf("Incorporating %d suggestions into instructions", len(analysis.Suggestions)))
		text, err := g.rewrite(ctx, system, withSuggestions(rendered, analysis.Suggestions))
		if err == nil {
			out.Instructions = text
			out.Source = SourceAnalysis
			return
		}
		g.warn(fmt.Sprintf("Rewrite with suggestions failed: %v", err))
	}

	augmented := withDirectives(rendered)
	out.Source = SourceEnhanced
	text, err := g.rewrite(ctx, system, augmented)
	if err != nil {
		if g.model != nil {
			g.warn(fmt.Sprintf("Rewrite failed, using augmented template: %v", err))
		}
		out.Instructions = augmented
		return
	}
	out.Instructions = text
}

// analyze never fails; errors are logged and whatever partial analysis came
// back is returned.
func (g *Generator) analyze(ctx context.Context, command string) *learning.Analysis {
	if g.analyzer == nil || g.runs == nil {
		return nil
	}
	g.info("Analyzing ledger for instruction improvements")
	analysis, err := g.analyzer.AnalyzeLedger(ctx, g.runs, command, g.limit)
	if err != nil {
		g.warn(fmt.Sprintf("Failure analysis failed: %v", err))
	}
	if !analysis.HasSignal() {
		g.info("No improvements suggested by failure analysis")
	}
	return analysis
}

func (g *Generator) rewrite(ctx context.Context, system, prompt string) (string, error) {
	if g.model == nil {
		return "", fmt.Errorf("no model configured")
	}
	text, err := g.model.Generate(ctx, system, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("model returned empty instructions")
	}
	return text, nil
}

func withSuggestions(rendered string, suggestions []string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(rendered, "\n"))
	b.WriteString("\n\n")
	b.WriteString(suggestionsHeading)
	b.WriteString("\n")
	for i, s := range suggestions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return b.String()
}

func withDirectives(rendered string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(rendered, "\n"))
	b.WriteString("\n\nAdditional Requirements:\n")
	for _, d := range robustnessDirectives {
		b.WriteString("- " + d + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (g *Generator) commandAnalysisSystem() string {
	if g.repo != nil {
		if s, err := g.repo.Template(CommandAnalysisPath); err == nil && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return commandAnalysisSystem
}

func (g *Generator) commandAnalysisPrompt(command string) string {
	var b strings.Builder
	b.WriteString("Analyze the following command and determine the task type and parameters.\n\n")
	fmt.Fprintf(&b, "Command: %s\n\nAvailable Task Types:\n", command)
	for _, t := range g.catalog.Tasks {
		fmt.Fprintf(&b, "- %s: %s", t.ID, t.Description)
		if len(t.RequiredParams) > 0 {
			fmt.Fprintf(&b, " (parameters: %s)", strings.Join(t.RequiredParams, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString(`
Return a JSON object with taskType and parameters fields:
{
  "taskType": "one_of_the_available_types",
  "parameters": {
    "param1": "value1"
  }
}`)
	return b.String()
}

func toAny(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = stringify(p)
		}
		return strings.Join(parts, ", ")
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + stringify(t[k])
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

func (g *Generator) debug(msg string) {
	if g.logger != nil {
		g.logger.LogDebug(msg)
	}
}

func (g *Generator) info(msg string) {
	if g.logger != nil {
		g.logger.LogInfo(msg)
	}
}

func (g *Generator) warn(msg string) {
	if g.logger != nil {
		g.logger.LogWarn(msg)
	}
}
