package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanfind/pkg/version"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep the index fresh until interrupted",
		Long: `Run in the foreground, rebuilding the index when it is missing or older
than rebuild.max_age, then checking again every rebuild.interval.

Stops cleanly on SIGINT or SIGTERM: a build in progress is cancelled and
its partial generation discarded, the active generation is left intact.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags)
		},
	}
}

func runServe(ctx context.Context, flags *globalFlags) error {
	a, err := openApp(ctx, flags, appOptions{stderrLogs: true})
	if err != nil {
		return err
	}
	defer a.Close()
	m := a.manager

	active := m.ActiveGeneration()
	a.logger.Info("serve_started",
		slog.String("version", version.Version),
		slog.String("index_dir", m.IndexDir()),
		slog.Bool("first_build_complete", active.FirstBuildComplete),
		slog.String("generation", active.GenerationID),
		slog.Duration("interval", a.cfg.Rebuild.Interval))

	// Startup decision: build when nothing is adopted yet or the active
	// generation is stale.
	m.RequestRebuild(false)

	m.RunScheduler(ctx, a.cfg.Rebuild.Interval)

	a.logger.Info("serve_stopping", slog.Bool("rebuild_in_progress", m.IsRebuildInProgress()))
	a.pruneHistory(context.WithoutCancel(ctx))
	return nil
}
