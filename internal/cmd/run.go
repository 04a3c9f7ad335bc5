package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/harrison/webpilot/internal/agent"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run <command>",
		Short: "Execute one natural-language command",
		Long: `Execute one natural-language command against the browser.

The command is classified against the task catalog, turned into
instructions (fast: the rendered template, adaptive: improved using past
failures from the ledger) and carried out by the agent loop. The run is
sealed into the ledger whether it succeeds or not.

Chrome must be running with remote debugging enabled, e.g.
  chrome --remote-debugging-port=9222

Examples:
  webpilot run "download form 941 for Q1 2024"
  webpilot run --mode adaptive "download the latest W-2"
  webpilot run --json "log in and download my statement"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, strings.Join(args, " "), jsonOutput)
		},
	}

	cmd.Flags().String("mode", "", "Execution mode: fast or adaptive (overrides config)")
	cmd.Flags().Int("max-iterations", 0, "Maximum agent loop iterations (overrides config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")

	return cmd
}

func runCommand(cmd *cobra.Command, command string, jsonOutput bool) error {
	a, err := openApp(cmd, appOptions{fileLog: true})
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.runner(nil, true)
	if err != nil {
		return err
	}

	result, runErr := runner.Execute(cmd.Context(), command)
	if result != nil {
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
		} else {
			printResult(cmd.OutOrStdout(), result)
		}
	}
	if runErr != nil {
		return fmt.Errorf("run %s failed: %w", result.RunID, runErr)
	}
	return nil
}

// printResult formats a command result for the terminal.
func printResult(w io.Writer, result *agent.CommandResult) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	fmt.Fprintln(w)
	if result.Success {
		green.Fprintf(w, "✓ Success")
	} else {
		red.Fprintf(w, "✗ Failed")
		if result.ErrorKind != "" {
			red.Fprintf(w, " (%s)", result.ErrorKind)
		}
	}
	gray.Fprintf(w, "  run %s\n", result.RunID)

	fmt.Fprintf(w, "  Task: %s", result.TaskType)
	if result.Source != "" {
		gray.Fprintf(w, " [%s]", result.Source)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Iterations: %d, tool calls: %d, duration: %s\n",
		result.Iterations, result.ToolCalls, result.Duration.Round(time.Millisecond))

	if result.Error != "" {
		fmt.Fprintf(w, "  Error: ")
		red.Fprintf(w, "%s\n", result.Error)
	}
	if out := strings.TrimSpace(result.Output); out != "" {
		cyan.Fprintf(w, "\n%s\n", "Result:")
		fmt.Fprintf(w, "%s\n", out)
	}
}
