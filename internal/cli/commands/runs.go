package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/leapstack-labs/thelook/internal/cli/config"
	intconfig "github.com/leapstack-labs/thelook/internal/config"
	"github.com/spf13/cobra"
)

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs",
		Long: `List the most recent runs from the run ledger.

Given a run ID, show the outcome of every entity of that run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg.Config, config.GetLogger(cmd.Context()))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			out := cmd.OutOrStdout()

			if len(args) == 1 {
				run, err := store.GetRun(args[0])
				if err != nil {
					return err
				}
				entities, err := store.GetEntityRunsForRun(run.ID)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "Run %s (%s): %s\n", run.ID, run.Environment, run.Status)
				if run.Error != "" {
					_, _ = fmt.Fprintf(out, "Error: %s\n", run.Error)
				}
				renderEntityRuns(out, entities)
				return nil
			}

			runs, err := store.ListRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				_, _ = fmt.Fprintln(out, "No runs recorded")
				return nil
			}

			t := newTable(out)
			t.AppendHeader(table.Row{"Run", "Environment", "Status", "Started", "Duration"})
			for _, r := range runs {
				duration := "-"
				if r.CompletedAt != nil {
					duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				t.AppendRow(table.Row{
					r.ID,
					r.Environment,
					string(r.Status),
					r.StartedAt.Local().Format(time.DateTime),
					duration,
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", intconfig.DefaultRunsLimit, "Maximum number of runs to list")

	return cmd
}
