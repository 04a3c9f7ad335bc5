package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/harrison/webpilot/internal/instructions"
	"github.com/spf13/cobra"
)

// NewTasksCommand creates the tasks command
func NewTasksCommand() *cobra.Command {
	var showGenerated int

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List the task catalog",
		Long: `List the task types commands are classified into, with their
templates and required parameters. --generated also lists the most
recently saved instruction files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			catalog, err := instructions.LoadCatalog(a.cfg.Templates.TasksFile)
			if err != nil {
				return err
			}
			printCatalog(cmd.OutOrStdout(), catalog)

			if showGenerated > 0 {
				repo := instructions.NewRepository(a.cfg.Templates.Dir)
				recent, err := repo.RecentGenerated(showGenerated)
				if err != nil {
					return fmt.Errorf("list generated instructions: %w", err)
				}
				printRecentGenerated(cmd.OutOrStdout(), recent)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&showGenerated, "generated", 0, "Also list this many recently generated instruction files")

	return cmd
}

func printCatalog(w io.Writer, c *instructions.Catalog) {
	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)

	def := c.Default()
	cyan.Fprintf(w, "Tasks (%d):\n", len(c.Tasks))
	for _, t := range c.Tasks {
		fmt.Fprintf(w, "  %s", t.ID)
		if t.ID == def.ID {
			gray.Fprintf(w, " (default)")
		}
		fmt.Fprintln(w)
		if t.Description != "" {
			fmt.Fprintf(w, "      %s\n", t.Description)
		}
		gray.Fprintf(w, "      template: %s", t.Template)
		if len(t.RequiredParams) > 0 {
			gray.Fprintf(w, ", requires: %s", strings.Join(t.RequiredParams, ", "))
		}
		fmt.Fprintln(w)
	}
}

func printRecentGenerated(w io.Writer, recent []instructions.GeneratedInfo) {
	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Fprintf(w, "\nRecently generated (%d):\n", len(recent))
	if len(recent) == 0 {
		fmt.Fprintln(w, "  none")
		return
	}
	for _, g := range recent {
		fmt.Fprintf(w, "  %s  %-20s %s\n", g.GeneratedAt.Local().Format("2006-01-02 15:04:05"), g.TaskType, truncateLine(g.Command, 50))
	}
}
