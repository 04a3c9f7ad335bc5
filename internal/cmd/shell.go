package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/harrison/webpilot/internal/agent"
	"github.com/harrison/webpilot/internal/models"
	"github.com/spf13/cobra"
)

const shellPrompt = "webpilot> "

// NewShellCommand creates the interactive shell command
func NewShellCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session",
		Long: `Start an interactive session that keeps one browser connection open
and executes one natural-language command per line.

Built-in commands:
  mode [fast|adaptive]  show or change the execution mode
  history               show recent tasks of this session
  help                  show this help
  exit, quit            leave the shell

Questions the agent asks (credentials, one-time codes) are answered at the
prompt; answers that look like secrets are not echoed.`,
		Args: cobra.NoArgs,
		RunE: runShellCommand,
	}

	cmd.Flags().String("mode", "", "Initial execution mode: fast or adaptive")
	cmd.Flags().Int("max-iterations", 0, "Maximum agent loop iterations (overrides config)")

	return cmd
}

func runShellCommand(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, appOptions{fileLog: true})
	if err != nil {
		return err
	}
	defer a.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            shellPrompt,
		HistoryFile:       filepath.Join(a.home, "shell_history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		UniqueEditLine:    true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	asker := newTerminalAsker(rl, cmd.OutOrStdout(), shellPrompt)
	runner, err := a.runner(asker, true)
	if err != nil {
		return err
	}

	return runShell(cmd.Context(), asker, cmd.OutOrStdout(), runner)
}

// runShell reads commands until exit, EOF or an interrupt on an empty line.
// Failed commands are reported and the shell keeps going.
func runShell(ctx context.Context, rl lineReader, w io.Writer, runner *agent.Runner) error {
	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)

	cyan.Fprintln(w, "Webpilot interactive shell")
	gray.Fprintf(w, "Mode: %s. Type 'help' for commands, 'exit' to quit.\n\n", runner.Mode())

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				fmt.Fprintln(w, "Goodbye!")
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(w, "Goodbye!")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch strings.ToLower(fields[0]) {
		case "exit", "quit":
			fmt.Fprintln(w, "Goodbye!")
			return nil
		case "help":
			printShellHelp(w)
			continue
		case "mode":
			if len(fields) == 1 {
				fmt.Fprintf(w, "Mode: %s\n", runner.Mode())
				continue
			}
			if len(fields) == 2 {
				mode, err := models.ParseExecutionMode(fields[1])
				if err != nil {
					color.New(color.FgRed).Fprintf(w, "%v\n", err)
					continue
				}
				runner.SetMode(mode)
				fmt.Fprintf(w, "Mode set to %s\n", mode)
				continue
			}
		case "history":
			if len(fields) == 1 {
				printTaskHistory(w, runner.TaskContext())
				continue
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		result, _ := runner.Execute(ctx, line)
		if result != nil {
			printResult(w, result)
		}
		fmt.Fprintln(w)
	}
}

func printShellHelp(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  mode [fast|adaptive]  show or change the execution mode")
	fmt.Fprintln(w, "  history               show recent tasks of this session")
	fmt.Fprintln(w, "  exit, quit            leave the shell")
	fmt.Fprintln(w, "Anything else is executed as a browser command.")
}

func printTaskHistory(w io.Writer, tc *agent.TaskContext) {
	history := tc.History()
	if len(history) == 0 {
		fmt.Fprintln(w, "No tasks yet.")
		return
	}
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	for i := len(history) - 1; i >= 0; i-- {
		s := history[i]
		fmt.Fprintf(w, "  %s  %-24s ", s.StartedAt.Format("15:04:05"), s.TaskType)
		if s.Status == agent.StatusCompleted {
			green.Fprintf(w, "%s\n", s.Status)
		} else {
			red.Fprintf(w, "%s\n", s.Status)
		}
	}
}
