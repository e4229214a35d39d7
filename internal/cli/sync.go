package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/farstore/registry-sync/internal/app"
	"github.com/farstore/registry-sync/internal/app/services/registry"
)

var syncTasks = []string{registry.TaskDiscovery, registry.TaskResync, registry.TaskMetrics, registry.TaskAPIKeys}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <task>...",
		Short: "Run sync tasks once",
		Long: `Run one or more sync tasks once, in the order given, and report each result.

Tasks:
  discovery  mirror ledger entries added since the last run
  resync     refresh the entries with the oldest sync attempt
  metrics    recompute liquidity and funding figures
  apikeys    reload API keys

Example:
  registry-sync sync discovery resync`,
		Args:      cobra.MatchAll(cobra.MinimumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: syncTasks,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := rootOpts.load()
			if err != nil {
				return err
			}
			application, err := app.New(cmd.Context(), cfg, app.Stores{}, app.Options{}, log)
			if err != nil {
				return err
			}
			defer application.Stop(cmd.Context())

			return runTasks(cmd, application.Scheduler, args, NewPrinter(rootOpts.out()))
		},
	}
}

type taskRunner interface {
	RunOnce(ctx context.Context, name string) error
}

// runTasks runs every task even when an earlier one fails.
func runTasks(cmd *cobra.Command, runner taskRunner, tasks []string, p *Printer) error {
	failed := 0
	for _, name := range tasks {
		start := time.Now()
		err := runner.RunOnce(cmd.Context(), name)
		elapsed := formatDuration(time.Since(start))
		if err != nil {
			failed++
			p.Error(fmt.Sprintf("%s failed after %s: %v", name, elapsed, err))
			continue
		}
		p.Success(fmt.Sprintf("%s completed in %s", name, elapsed))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(tasks))
	}
	return nil
}
