package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/harrison/webpilot/internal/learning"
	"github.com/spf13/cobra"
)

// NewAnalyzeCommand creates the analyze command
func NewAnalyzeCommand() *cobra.Command {
	var (
		command    string
		threshold  float64
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze failed runs in the ledger",
		Long: `Mine sealed ledger runs for recurring failures: normalized error
signatures, failing steps and step sequences, error categories and the
points where runs broke. With an API key the counted evidence is also
turned into suggestions and replacement instructions.

Examples:
  webpilot analyze
  webpilot analyze --command "download form 941 for Q1 2024" --limit 20
  webpilot analyze --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("threshold") {
				threshold = a.cfg.Analysis.FailureThreshold
			}
			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.Analysis.MaxRuns
			}

			analysis, err := a.analyzer(a.optionalModel(), threshold).
				AnalyzeLedger(cmd.Context(), a.store, command, limit)
			if err != nil {
				if analysis == nil {
					return err
				}
				a.log.LogWarn(fmt.Sprintf("Model synthesis failed, showing counted patterns only: %v", err))
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(analysis)
			}
			printAnalysis(cmd.OutOrStdout(), analysis)
			return nil
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "Only analyze failures of this command when any exist")
	cmd.Flags().Float64Var(&threshold, "threshold", learning.DefaultFailureThreshold, "Sequence failure rate above which a sequence is reported")
	cmd.Flags().IntVar(&limit, "limit", 50, "Number of most recent sealed runs to inspect")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the analysis as JSON")

	return cmd
}

func printAnalysis(w io.Writer, a *learning.Analysis) {
	cyan := color.New(color.FgCyan, color.Bold)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	s := a.Summary
	if s == nil || s.FailedRuns == 0 {
		fmt.Fprintln(w, "No failed runs to analyze.")
		return
	}

	cyan.Fprintf(w, "\n=== Failure analysis (%d failed runs) ===\n\n", s.FailedRuns)

	if len(s.ErrorPatterns) > 0 {
		cyan.Fprintln(w, "Recurring errors:")
		for _, p := range s.ErrorPatterns {
			fmt.Fprintf(w, "  %3dx  ", p.Count)
			red.Fprintf(w, "%s\n", p.Signature)
		}
		fmt.Fprintln(w)
	}

	if len(s.Sequences.HighFailureSteps) > 0 {
		cyan.Fprintln(w, "Failing steps:")
		for _, st := range s.Sequences.HighFailureSteps {
			fmt.Fprintf(w, "  %-28s %5.1f%%", st.Step, st.FailureRate*100)
			gray.Fprintf(w, " (%d/%d)\n", st.Failures, st.TotalExecutions)
		}
		fmt.Fprintln(w)
	}

	if len(s.Sequences.HighFailureSequences) > 0 {
		cyan.Fprintln(w, "Failing sequences:")
		for _, seq := range s.Sequences.HighFailureSequences {
			fmt.Fprintf(w, "  %-40s %5.1f%%", seq.Sequence, seq.FailureRate*100)
			gray.Fprintf(w, " (%d/%d)\n", seq.Failures, seq.Count)
		}
		fmt.Fprintln(w)
	}

	if len(a.FailurePatterns) > 0 {
		cyan.Fprintln(w, "Failure patterns:")
		for _, p := range a.FailurePatterns {
			fmt.Fprintf(w, "  [%s] %s (x%d)\n", p.Type, p.Description, p.Frequency)
			if p.RecommendedFix != "" {
				gray.Fprintf(w, "      fix: %s\n", p.RecommendedFix)
			}
		}
		fmt.Fprintln(w)
	}

	if len(a.Suggestions) > 0 {
		cyan.Fprintln(w, "Suggestions:")
		for _, sg := range a.Suggestions {
			fmt.Fprintf(w, "  - %s\n", sg)
		}
		fmt.Fprintln(w)
	}

	if a.NewInstructions != "" {
		cyan.Fprintln(w, "Proposed instructions:")
		fmt.Fprintln(w, a.NewInstructions)
	}
}
