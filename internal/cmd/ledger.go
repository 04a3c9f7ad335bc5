package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/harrison/webpilot/internal/ledger"
	"github.com/harrison/webpilot/internal/models"
	"github.com/spf13/cobra"
)

// NewLedgerCommand creates the 'webpilot ledger' command group
func NewLedgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the execution ledger",
		Long: `Inspect and manage the execution ledger, the persistent record of
every run: its command, instructions, recorded actions and sealed outcome.`,
	}

	cmd.AddCommand(newLedgerListCommand())
	cmd.AddCommand(newLedgerShowCommand())
	cmd.AddCommand(newLedgerClearCommand())

	return cmd
}

func newLedgerListCommand() *cobra.Command {
	var (
		command    string
		outcome    string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := ledger.ListOptions{Command: command, Limit: limit}
			switch strings.ToLower(outcome) {
			case "":
			case string(models.OutcomeSuccess), string(models.OutcomeFailure):
				opts.Outcome = models.Outcome(strings.ToLower(outcome))
			default:
				return fmt.Errorf("invalid outcome %q: use success or failure", outcome)
			}

			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.store.List(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), runs)
			}
			printRunList(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "Only runs of this exact command")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Only runs with this outcome: success or failure")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print runs as JSON")

	return cmd
}

func newLedgerShowCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its recorded actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.store.Get(cmd.Context(), args[0])
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("run %s not found", args[0])
			}
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), run)
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the run as JSON")

	return cmd
}

func newLedgerClearCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every run from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := cmd.OutOrStdout()
			if !yes {
				fmt.Fprintf(output, "WARNING: This will delete ALL runs from the ledger.\n")
				if !confirmAction(cmd.InOrStdin(), output) {
					fmt.Fprintf(output, "Operation cancelled.\n")
					return nil
				}
			}

			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.Clear(cmd.Context())
			if err != nil {
				return fmt.Errorf("clear ledger: %w", err)
			}
			fmt.Fprintf(output, "Deleted %d run(s).\n", n)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

// confirmAction prompts the user for confirmation
func confirmAction(in io.Reader, out io.Writer) bool {
	fmt.Fprintf(out, "Are you sure? (yes/no): ")
	reader := bufio.NewReader(in)
	response, err := reader.ReadString('\n')
	if err != nil && response == "" {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "yes" || response == "y"
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRunList(w io.Writer, runs []*models.TaskRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	gray := color.New(color.FgHiBlack)
	for _, run := range runs {
		fmt.Fprintf(w, "%s  %s  ", run.ID, run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		outcomeColor(run).Fprintf(w, "%-8s", outcomeLabel(run))
		gray.Fprintf(w, " %-8s %3d actions  ", run.Mode, len(run.Actions))
		fmt.Fprintf(w, "%s\n", truncateLine(run.Command, 60))
	}
}

func printRun(w io.Writer, run *models.TaskRun) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	cyan.Fprintf(w, "\n=== Run %s ===\n\n", run.ID)
	fmt.Fprintf(w, "  Command: %s\n", run.Command)
	fmt.Fprintf(w, "  Mode: %s\n", run.Mode)
	fmt.Fprintf(w, "  Created: %s\n", run.CreatedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "  Outcome: ")
	outcomeColor(run).Fprintf(w, "%s\n", outcomeLabel(run))
	if run.IsSealed() {
		fmt.Fprintf(w, "  Duration: %s\n", run.Duration.Round(time.Millisecond))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "  Error: ")
		red.Fprintf(w, "%s", run.Error)
		if run.ErrorKind != "" {
			gray.Fprintf(w, " (%s)", run.ErrorKind)
		}
		fmt.Fprintln(w)
	}

	cyan.Fprintf(w, "\nActions (%d):\n", len(run.Actions))
	for i, act := range run.Actions {
		fmt.Fprintf(w, "  %3d. %s ", i+1, act.Timestamp.Local().Format("15:04:05"))
		if act.Success {
			green.Fprintf(w, "✓ ")
		} else {
			red.Fprintf(w, "✗ ")
		}
		fmt.Fprintf(w, "%s", act.Action)
		if act.Error != "" {
			red.Fprintf(w, "  %s", truncateLine(act.Error, 100))
		}
		fmt.Fprintln(w)
	}

	if run.Instructions != "" {
		cyan.Fprintln(w, "\nInstructions:")
		fmt.Fprintln(w, strings.TrimRight(run.Instructions, "\n"))
	}
}

func outcomeLabel(run *models.TaskRun) string {
	if !run.IsSealed() {
		return "open"
	}
	return string(run.Outcome)
}

func outcomeColor(run *models.TaskRun) *color.Color {
	switch {
	case !run.IsSealed():
		return color.New(color.FgYellow)
	case run.Outcome == models.OutcomeSuccess:
		return color.New(color.FgGreen)
	default:
		return color.New(color.FgRed)
	}
}

func truncateLine(s string, maxLen int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
