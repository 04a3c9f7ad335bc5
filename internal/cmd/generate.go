package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/harrison/webpilot/internal/instructions"
	"github.com/spf13/cobra"
)

// NewGenerateCommand creates the generate command
func NewGenerateCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "generate <command>",
		Short: "Generate instructions for a command without running it",
		Long: `Classify a command, render its task template and print the resulting
instructions. Nothing is sent to the browser.

Without an API key the command falls back to the default task and, in
adaptive mode, to the template plus generic robustness directives.

Examples:
  webpilot generate "download form 941 for Q1 2024"
  webpilot generate --mode adaptive --json "download the latest W-2"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, strings.Join(args, " "), jsonOutput)
		},
	}

	cmd.Flags().String("mode", "", "Execution mode: fast or adaptive (overrides config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")

	return cmd
}

func runGenerate(cmd *cobra.Command, command string, jsonOutput bool) error {
	a, err := openApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	gen, err := a.generator(a.optionalModel())
	if err != nil {
		return err
	}

	out, err := gen.Generate(cmd.Context(), command, a.cfg.Execution.Mode)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printGenerated(cmd.OutOrStdout(), out)
	return nil
}

func printGenerated(w io.Writer, g *instructions.Generated) {
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	cyan.Fprintf(w, "Task: %s", g.TaskType)
	gray.Fprintf(w, " [%s]\n", g.Source)
	if g.TemplatePath != "" {
		fmt.Fprintf(w, "Template: %s\n", g.TemplatePath)
	}

	keys := make([]string, 0, len(g.Parameters))
	for k := range g.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		fmt.Fprintln(w, "Parameters:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, g.Parameters[k])
		}
	}
	if len(g.MissingParams) > 0 {
		yellow.Fprintf(w, "Missing parameters: %s\n", strings.Join(g.MissingParams, ", "))
	}
	if g.SavedPath != "" {
		gray.Fprintf(w, "Saved to %s\n", g.SavedPath)
	}

	cyan.Fprintln(w, "\nInstructions:")
	fmt.Fprintln(w, strings.TrimRight(g.Instructions, "\n"))
}
