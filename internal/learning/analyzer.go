// Package learning mines sealed ledger runs for recurring failures and asks
// the model to turn the counted evidence into instruction improvements.
//
// Pattern extraction is deterministic: the same batch of runs always yields
// the same signatures, counts and rankings. Only the final synthesis step
// calls the model, and it sees the structured summary rather than raw logs.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/harrison/webpilot/internal/ledger"
	"github.com/harrison/webpilot/internal/models"
)

// DefaultFailureThreshold is the sequence failure rate above which a
// sequence is reported.
const DefaultFailureThreshold = 0.5

const (
	recentFailureCount = 5
	maxInstructionsLen = 1000
)

// Summary is the counted evidence handed to the model.
type Summary struct {
	Command            string                       `json:"command,omitempty"`
	FailedRuns         int                          `json:"failedRuns"`
	ErrorPatterns      []ErrorPattern               `json:"errorPatterns"`
	Sequences          SequenceAnalysis             `json:"stepPatterns"`
	Categories         map[models.ErrorCategory]int `json:"errorCategories"`
	FailurePointCounts map[string]int               `json:"failurePoints"`
	Recent             []RunDiagnostics             `json:"recentFailures"`
}

// RunDiagnostics describes one recent failed run.
type RunDiagnostics struct {
	ID             string           `json:"id"`
	Command        string           `json:"command"`
	Mode           string           `json:"executionMode"`
	Error          string           `json:"error,omitempty"`
	ErrorKind      models.ErrorKind `json:"errorKind,omitempty"`
	CriticalErrors []CriticalError  `json:"criticalErrors,omitempty"`
	FailurePoints  []FailurePoint   `json:"failurePoints,omitempty"`
	Instructions   string           `json:"-"`
}

// FailurePattern is a recurring failure with an optional recommended fix.
type FailurePattern struct {
	Type           string `json:"type"`
	Frequency      int    `json:"frequency"`
	Description    string `json:"description"`
	RecommendedFix string `json:"recommendedFix,omitempty"`
}

// Analysis is the result of analyzing a batch of runs.
type Analysis struct {
	Suggestions     []string         `json:"suggestions"`
	FailurePatterns []FailurePattern `json:"failurePatterns"`
	NewInstructions string           `json:"newPrompt,omitempty"`
	Summary         *Summary         `json:"summary,omitempty"`
	Raw             string           `json:"rawOutput,omitempty"`
}

// HasSignal reports whether the analysis carries anything the instruction
// generator can use.
func (a *Analysis) HasSignal() bool {
	return a != nil && (len(a.Suggestions) > 0 || strings.TrimSpace(a.NewInstructions) != "")
}

// Model is the JSON completion surface the analyzer needs. *llm.Service
// implements it.
type Model interface {
	GenerateJSON(ctx context.Context, system, prompt string, result interface{}) (string, error)
}

// RunSource lists ledger runs. ledger.Store implements it.
type RunSource interface {
	List(ctx context.Context, opts ledger.ListOptions) ([]*models.TaskRun, error)
}

// Logger is the logging surface used by the analyzer.
type Logger interface {
	LogInfo(message string)
	LogWarn(message string)
}

// Analyzer extracts failure patterns and synthesizes improvements.
type Analyzer struct {
	model     Model
	threshold float64
	logger    Logger
}

// NewAnalyzer creates an analyzer. A nil model limits it to counted
// patterns; a threshold <= 0 uses DefaultFailureThreshold.
func NewAnalyzer(model Model, threshold float64, logger Logger) *Analyzer {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Analyzer{model: model, threshold: threshold, logger: logger}
}

// AnalyzeLedger lists up to limit failed runs from source and analyzes them.
// Failures of command are listed first; when there are none, failures of
// any command are used.
func (a *Analyzer) AnalyzeLedger(ctx context.Context, source RunSource, command string, limit int) (*Analysis, error) {
	if source == nil {
		return &Analysis{}, nil
	}
	opts := ledger.ListOptions{Outcome: models.OutcomeFailure, SealedOnly: true, Limit: limit}

	var runs []*models.TaskRun
	if command != "" {
		scoped := opts
		scoped.Command = command
		var err error
		if runs, err = source.List(ctx, scoped); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
	}
	if len(runs) == 0 {
		var err error
		if runs, err = source.List(ctx, opts); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
	}
	return a.Analyze(ctx, runs, command)
}

// Analyze inspects the failed runs in the batch. When command is non-empty
// and some failed runs share it, only those are analyzed. No failures means
// an empty analysis. A model error still returns the counted patterns
// alongside the error.
func (a *Analyzer) Analyze(ctx context.Context, runs []*models.TaskRun, command string) (*Analysis, error) {
	failed := SelectFailures(runs, command)
	if len(failed) == 0 {
		a.info("No failed runs to analyze")
		return &Analysis{}, nil
	}

	summary := a.Summarize(failed, command)
	result := &Analysis{
		FailurePatterns: countedPatterns(summary),
		Summary:         summary,
	}
	if a.model == nil {
		return result, nil
	}

	var reply Analysis
	raw, err := a.model.GenerateJSON(ctx, analysisSystemPrompt, buildAnalysisPrompt(summary), &reply)
	result.Raw = raw
	if err != nil {
		if raw != "" {
			a.warn(fmt.Sprintf("Could not parse analysis reply: %v", err))
			return result, nil
		}
		return result, fmt.Errorf("synthesize improvements: %w", err)
	}

	for _, s := range reply.Suggestions {
		if s = strings.TrimSpace(s); s != "" {
			result.Suggestions = append(result.Suggestions, s)
		}
	}
	if len(reply.FailurePatterns) > 0 {
		result.FailurePatterns = reply.FailurePatterns
	}
	result.NewInstructions = strings.TrimSpace(reply.NewInstructions)
	a.info(fmt.Sprintf("Analysis of %d failed runs produced %d suggestions", len(failed), len(result.Suggestions)))
	return result, nil
}

// SelectFailures returns the sealed failed runs, newest first, narrowed to
// command when any of them match it.
func SelectFailures(runs []*models.TaskRun, command string) []*models.TaskRun {
	var failed, scoped []*models.TaskRun
	for _, r := range runs {
		if r == nil || !r.IsSealed() || !r.Failed() {
			continue
		}
		failed = append(failed, r)
		if command != "" && r.Command == command {
			scoped = append(scoped, r)
		}
	}
	if len(scoped) > 0 {
		failed = scoped
	}
	sort.SliceStable(failed, func(i, j int) bool {
		return failed[i].CreatedAt.After(failed[j].CreatedAt)
	})
	return failed
}

// Summarize computes the deterministic evidence for a set of failed runs.
func (a *Analyzer) Summarize(failed []*models.TaskRun, command string) *Summary {
	s := &Summary{
		Command:            command,
		FailedRuns:         len(failed),
		ErrorPatterns:      ExtractErrorPatterns(failed),
		Sequences:          AnalyzeSequences(failed, a.threshold),
		Categories:         make(map[models.ErrorCategory]int),
		FailurePointCounts: make(map[string]int),
	}

	for _, run := range failed {
		for _, action := range run.Actions {
			if action.Success {
				continue
			}
			s.FailurePointCounts[action.Action]++
			s.Categories[models.CategorizeError(action.Error)]++
		}
	}

	for i, run := range failed {
		if i == recentFailureCount {
			break
		}
		s.Recent = append(s.Recent, RunDiagnostics{
			ID:             run.ID,
			Command:        run.Command,
			Mode:           string(run.Mode),
			Error:          run.Error,
			ErrorKind:      run.ErrorKind,
			CriticalErrors: CriticalErrors(run),
			FailurePoints:  FailurePoints(run),
			Instructions:   truncateInstructions(run.Instructions),
		})
	}
	return s
}

func countedPatterns(s *Summary) []FailurePattern {
	patterns := make([]FailurePattern, 0, len(s.ErrorPatterns)+len(s.Sequences.HighFailureSequences))
	for _, p := range s.ErrorPatterns {
		patterns = append(patterns, FailurePattern{
			Type:        string(models.CategorizeError(p.Signature)),
			Frequency:   p.Count,
			Description: p.Signature,
		})
	}
	for _, q := range s.Sequences.HighFailureSequences {
		patterns = append(patterns, FailurePattern{
			Type:        "step_sequence",
			Frequency:   q.Failures,
			Description: fmt.Sprintf("%s fails %s of %d times", q.Sequence, formatRate(q.FailureRate), q.Count),
		})
	}
	return patterns
}

func truncateInstructions(s string) string {
	if len(s) <= maxInstructionsLen {
		return s
	}
	return s[:maxInstructionsLen] + "... (truncated)"
}

func (a *Analyzer) info(msg string) {
	if a.logger != nil {
		a.logger.LogInfo(msg)
	}
}

func (a *Analyzer) warn(msg string) {
	if a.logger != nil {
		a.logger.LogWarn(msg)
	}
}

const analysisSystemPrompt = "You are an expert in web automation, prompt engineering, and error analysis. " +
	"Analyze failure evidence from browser automation runs and suggest practical, specific changes " +
	"to the instructions that address root causes."

func buildAnalysisPrompt(s *Summary) string {
	var b strings.Builder
	b.WriteString("# Log Analysis Task\n\n")
	fmt.Fprintf(&b, "Analyze the evidence from %d failed web automation runs to identify patterns and improve the instructions.\n\n", s.FailedRuns)

	b.WriteString("## Command Context\n")
	if s.Command != "" {
		fmt.Fprintf(&b, "The current command is: %q\n\n", s.Command)
	} else {
		b.WriteString("No specific command provided.\n\n")
	}

	writeJSONSection(&b, "Extracted Error Patterns", s.ErrorPatterns)
	writeJSONSection(&b, "Step Pattern Analysis", s.Sequences)
	writeJSONSection(&b, "Error Categories", s.Categories)
	writeJSONSection(&b, "Failure Points", s.FailurePointCounts)
	writeJSONSection(&b, "Detailed Diagnostics", s.Recent)

	b.WriteString("## Instructions Used\n")
	for _, d := range s.Recent {
		fmt.Fprintf(&b, "### Run %s\n```\n%s\n```\n\n", d.ID, d.Instructions)
	}

	b.WriteString(`## Analysis Instructions
1. Identify specific patterns in the failures (selector issues, timing problems, navigation errors).
2. Determine root causes.
3. Suggest specific improvements to the instructions.
4. Write a complete replacement set of instructions that addresses the issues.

Respond with JSON only, in this shape:
` + "```json" + `
{
  "suggestions": ["Add an explicit wait_for_selector before clicking the login button"],
  "failurePatterns": [
    {"type": "pattern_type", "frequency": 2, "description": "what happens", "recommendedFix": "specific fix"}
  ],
  "newPrompt": "A complete improved set of instructions."
}
` + "```\n")
	return b.String()
}

func writeJSONSection(b *strings.Builder, title string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf("%q", err.Error()))
	}
	fmt.Fprintf(b, "## %s\n```json\n%s\n```\n\n", title, data)
}
