package learning

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harrison/webpilot/internal/models"
)

const (
	maxErrorPatterns  = 10
	maxRankedSteps    = 5
	maxRankedSeqs     = 5
	minObservations   = 2
	maxDetailValueLen = 200
	sequenceSeparator = " → "
)

// ErrorPattern is a normalized error signature and how often it occurred.
type ErrorPattern struct {
	Signature string `json:"error"`
	Count     int    `json:"count"`
}

// ExtractErrorPatterns counts normalized error signatures across runs. Errors
// come from the run's top-level error, each action's error, and any string
// detail whose key mentions "error". Signatures seen only once are dropped;
// the ten most frequent remain, ties broken by signature.
func ExtractErrorPatterns(runs []*models.TaskRun) []ErrorPattern {
	counts := make(map[string]int)
	for _, msg := range collectErrors(runs) {
		if sig := NormalizeError(msg); sig != "" {
			counts[sig]++
		}
	}

	patterns := make([]ErrorPattern, 0, len(counts))
	for sig, n := range counts {
		if n > 1 {
			patterns = append(patterns, ErrorPattern{Signature: sig, Count: n})
		}
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Signature < patterns[j].Signature
	})
	if len(patterns) > maxErrorPatterns {
		patterns = patterns[:maxErrorPatterns]
	}
	return patterns
}

func collectErrors(runs []*models.TaskRun) []string {
	var errs []string
	for _, run := range runs {
		if run.Error != "" {
			errs = append(errs, run.Error)
		}
		for _, action := range run.Actions {
			if action.Error != "" {
				errs = append(errs, action.Error)
			}
			for _, key := range sortedKeys(action.Detail) {
				lower := strings.ToLower(key)
				if !strings.Contains(lower, "error") || lower == "error_kind" {
					continue
				}
				if s, ok := action.Detail[key].(string); ok && s != "" && s != action.Error {
					errs = append(errs, s)
				}
			}
		}
	}
	return errs
}

// StepStat is the success record of one action name.
type StepStat struct {
	Step            string  `json:"step"`
	TotalExecutions int     `json:"totalExecutions"`
	Failures        int     `json:"failures"`
	FailureRate     float64 `json:"failureRate"`
}

// SequenceStat is the record of a run of two or three consecutive actions.
// A sequence fails when its last action fails.
type SequenceStat struct {
	Sequence    string  `json:"sequence"`
	Count       int     `json:"count"`
	Failures    int     `json:"failures"`
	FailureRate float64 `json:"failureRate"`
}

// SequenceAnalysis ranks steps and sequences by failure rate.
type SequenceAnalysis struct {
	HighFailureSteps     []StepStat     `json:"highFailureSteps"`
	HighFailureSequences []SequenceStat `json:"highFailureSequences"`
}

// AnalyzeSequences tallies every action and every consecutive pair and
// triple within each run. Steps observed at least twice are ranked by
// failure rate; sequences observed at least twice are kept only when their
// failure rate exceeds threshold.
func AnalyzeSequences(runs []*models.TaskRun, threshold float64) SequenceAnalysis {
	steps := make(map[string]*StepStat)
	seqs := make(map[string]*SequenceStat)

	for _, run := range runs {
		acts := run.Actions
		for i, a := range acts {
			s := steps[a.Action]
			if s == nil {
				s = &StepStat{Step: a.Action}
				steps[a.Action] = s
			}
			s.TotalExecutions++
			if !a.Success {
				s.Failures++
			}

			for width := 2; width <= 3; width++ {
				if i+width > len(acts) {
					break
				}
				window := acts[i : i+width]
				names := make([]string, len(window))
				for k, w := range window {
					names[k] = w.Action
				}
				key := strings.Join(names, sequenceSeparator)
				q := seqs[key]
				if q == nil {
					q = &SequenceStat{Sequence: key}
					seqs[key] = q
				}
				q.Count++
				if !window[len(window)-1].Success {
					q.Failures++
				}
			}
		}
	}

	var out SequenceAnalysis
	for _, s := range steps {
		if s.TotalExecutions < minObservations {
			continue
		}
		s.FailureRate = float64(s.Failures) / float64(s.TotalExecutions)
		out.HighFailureSteps = append(out.HighFailureSteps, *s)
	}
	for _, q := range seqs {
		if q.Count < minObservations {
			continue
		}
		q.FailureRate = float64(q.Failures) / float64(q.Count)
		if q.FailureRate > threshold {
			out.HighFailureSequences = append(out.HighFailureSequences, *q)
		}
	}

	sort.Slice(out.HighFailureSteps, func(i, j int) bool {
		a, b := out.HighFailureSteps[i], out.HighFailureSteps[j]
		if a.FailureRate != b.FailureRate {
			return a.FailureRate > b.FailureRate
		}
		if a.TotalExecutions != b.TotalExecutions {
			return a.TotalExecutions > b.TotalExecutions
		}
		return a.Step < b.Step
	})
	sort.Slice(out.HighFailureSequences, func(i, j int) bool {
		a, b := out.HighFailureSequences[i], out.HighFailureSequences[j]
		if a.FailureRate != b.FailureRate {
			return a.FailureRate > b.FailureRate
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Sequence < b.Sequence
	})
	if len(out.HighFailureSteps) > maxRankedSteps {
		out.HighFailureSteps = out.HighFailureSteps[:maxRankedSteps]
	}
	if len(out.HighFailureSequences) > maxRankedSeqs {
		out.HighFailureSequences = out.HighFailureSequences[:maxRankedSeqs]
	}
	return out
}

// CriticalError is a failed action whose error matches a known category.
type CriticalError struct {
	Action string                 `json:"action"`
	Error  string                 `json:"error"`
	Type   models.ErrorCategory   `json:"type"`
	Detail map[string]interface{} `json:"details,omitempty"`
}

// CriticalErrors returns the failed actions of run with a categorized error.
func CriticalErrors(run *models.TaskRun) []CriticalError {
	var out []CriticalError
	for _, a := range run.Actions {
		if a.Success || a.Error == "" {
			continue
		}
		category := models.CategorizeError(a.Error)
		if category == models.CategoryUnknown {
			continue
		}
		out = append(out, CriticalError{
			Action: a.Action,
			Error:  a.Error,
			Type:   category,
			Detail: summarizeDetail(a.Detail),
		})
	}
	return out
}

// FailurePoint is a stretch of consecutive failed actions within a run.
type FailurePoint struct {
	Index         int      `json:"index"`
	Action        string   `json:"action"`
	Error         string   `json:"error,omitempty"`
	ContextBefore []string `json:"contextBefore,omitempty"`
	FailureLength int      `json:"failureLength"`
	Recovers      bool     `json:"recovers"`
}

// FailurePoints locates each stretch of failures with up to two preceding
// actions of context and whether the run continued afterwards.
func FailurePoints(run *models.TaskRun) []FailurePoint {
	var out []FailurePoint
	acts := run.Actions
	for i := 0; i < len(acts); i++ {
		if acts[i].Success {
			continue
		}
		length := 1
		for j := i + 1; j < len(acts) && !acts[j].Success; j++ {
			length++
		}
		var before []string
		for k := max(0, i-2); k < i; k++ {
			before = append(before, acts[k].Action)
		}
		out = append(out, FailurePoint{
			Index:         i,
			Action:        acts[i].Action,
			Error:         acts[i].Error,
			ContextBefore: before,
			FailureLength: length,
			Recovers:      i+length < len(acts),
		})
		i += length - 1
	}
	return out
}

func summarizeDetail(detail map[string]interface{}) map[string]interface{} {
	if len(detail) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(detail))
	for k, v := range detail {
		if s, ok := v.(string); ok && len(s) > maxDetailValueLen {
			v = s[:maxDetailValueLen] + "... (truncated)"
		}
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatRate(r float64) string {
	return fmt.Sprintf("%.0f%%", r*100)
}
