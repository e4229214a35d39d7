package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/farstore/registry-sync/internal/app"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var skipBootstrap bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync scheduler and the HTTP read path",
		Long: `Run the background sync tasks on their schedules and serve the mirror over
HTTP until SIGINT or SIGTERM.

Unless --skip-bootstrap is given (or SYNC_BOOTSTRAP is false), every task runs
once before the server accepts requests so the lookup caches start populated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, skipBootstrap)
		},
	}
	cmd.Flags().BoolVar(&skipBootstrap, "skip-bootstrap", false, "start without running every task once")
	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, skipBootstrap bool) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}

	application, err := app.New(ctx, cfg, app.Stores{}, app.Options{ServeHTTP: true, Schedule: true}, log)
	if err != nil {
		return err
	}

	if height, err := application.ChainHeight(ctx); err != nil {
		log.WithError(err).Warn("chain node unreachable at startup")
	} else {
		log.WithField("block", height).Info("chain node reachable")
	}

	if cfg.Sync.BootstrapOnStartup && !skipBootstrap {
		bootCtx, cancel := context.WithTimeout(ctx, cfg.Sync.RunTimeout)
		application.Bootstrap(bootCtx)
		cancel()
	}

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("start: %w", err)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Entry().Info("shutdown signal received")
	case err, ok := <-application.HTTPErrors():
		if ok {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
	}
	return serveErr
}
