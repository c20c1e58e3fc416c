package commands

import (
	"fmt"
	"time"

	"github.com/leapstack-labs/thelook/internal/engine"
	"github.com/spf13/cobra"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Select []string
	DryRun bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Extract and load all entities or specific entities",
		Long: `Extract every entity in dependency order and load it into PostgreSQL.

By default all entities run. Use --select to run specific entities; their
references are read from the tables already loaded. Use --dry-run to extract
and validate without writing; references then come from the same run, so
upstream entities of the selection are extracted too.`,
		Example: `  # Run every entity
  thelook run

  # Run specific entities
  thelook run --select orders,order_items

  # Validate the raw data without touching PostgreSQL
  thelook run --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Select, "select", "s", nil, "Comma-separated list of entities to run")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Extract and validate without loading")

	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	out := cmd.OutOrStdout()
	start := time.Now()

	run, runErr := cc.Engine.Run(cmd.Context(), engine.RunOptions{
		Select: opts.Select,
		DryRun: opts.DryRun,
	})
	if run == nil {
		return runErr
	}

	entities, err := cc.Engine.Store().GetEntityRunsForRun(run.ID)
	if err != nil {
		return err
	}
	renderEntityRuns(out, entities)

	_, _ = fmt.Fprintf(out, "Run %s: %s\n", run.ID, run.Status)
	_, _ = fmt.Fprintf(out, "Completed in %s\n", time.Since(start).Round(time.Millisecond))

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}
