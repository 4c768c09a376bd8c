package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanfind/internal/async"
	"github.com/Aman-CERP/amanfind/internal/crawler"
	amanerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/lifecycle"
	"github.com/Aman-CERP/amanfind/internal/ui"
)

// progressInterval is how often the index command polls build progress.
const progressInterval = 150 * time.Millisecond

type indexOptions struct {
	force   bool
	root    string
	noTUI   bool
	noColor bool
}

func newIndexCmd(flags *globalFlags) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build or refresh the filename index",
		Long: `Build a new index generation and swap it in once it is verified.

Without --force the request is skipped while the active generation is
younger than rebuild.max_age. Searches from other processes keep using the
previous generation until the swap.`,
		Example: `  # Index the configured roots (or every volume)
  amanfind index

  # Rebuild now from a single directory
  amanfind index --force --root ~/projects`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, cmd, flags, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Rebuild even if the index is fresh")
	cmd.Flags().StringVar(&opts.root, "root", "", "Crawl only this directory")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Plain text progress output")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colors")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, flags *globalFlags, opts indexOptions) error {
	var roots *crawler.Roots
	if opts.root != "" {
		if _, err := os.Stat(opts.root); err != nil {
			return amanerrors.New(amanerrors.ErrCodeInvalidPath, "root is not accessible: "+opts.root, err)
		}
		r := crawler.CustomRoot(opts.root)
		roots = &r
	}

	a, err := openApp(ctx, flags, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	m := a.manager

	if !m.Rebuild(lifecycle.Request{Force: opts.force, Roots: roots}) {
		return explainSkipped(cmd, a, opts.force)
	}

	title := "default roots"
	if roots != nil {
		title = opts.root
	} else if len(a.cfg.Paths.Roots) > 0 {
		title = fmt.Sprintf("%d configured roots", len(a.cfg.Paths.Roots))
	}
	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithNoColor(opts.noColor || ui.DetectNoColor()),
		ui.WithTitle(title)))
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start progress display: %w", err)
	}

	last, buildErr := watchBuild(ctx, m, renderer)
	if buildErr != nil {
		renderer.AddError(ui.ErrorEvent{Err: buildErr})
		_ = renderer.Stop()
		return buildErr
	}

	stats := ui.CompletionStats{
		Skipped:  int(last.Skipped),
		Duration: time.Duration(last.ElapsedSeconds) * time.Second,
	}
	active := m.ActiveGeneration()
	stats.GenerationID = active.GenerationID
	stats.Location = active.Location
	stats.Records = active.RecordCount
	if a.history != nil {
		if entries, err := a.history.Recent(ctx, 1); err == nil && len(entries) == 1 {
			e := entries[0]
			stats.Skipped = e.SkippedCount
			stats.FailedRoots = len(e.FailedRoots)
			stats.Duration = e.Duration()
			for _, root := range e.FailedRoots {
				renderer.AddError(ui.ErrorEvent{Path: root, Err: fmt.Errorf("root could not be read"), IsWarn: true})
			}
		}
	}
	renderer.Complete(stats)
	a.pruneHistory(ctx)
	return renderer.Stop()
}

// watchBuild feeds progress snapshots to renderer until the build ends and
// returns the last snapshot.
func watchBuild(ctx context.Context, m *lifecycle.Manager, renderer ui.Renderer) (async.ProgressSnapshot, error) {
	errCh := make(chan error, 1)
	go func() { errCh <- m.Wait(ctx) }()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	var last async.ProgressSnapshot
	update := func() {
		snap, ok := m.Progress()
		if !ok {
			return
		}
		last = snap
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageFromName(snap.Stage),
			Records:     snap.Records,
			Skipped:     snap.Skipped,
			CurrentRoot: snap.CurrentRoot,
		})
	}

	for {
		select {
		case err := <-errCh:
			update()
			return last, err
		case <-ticker.C:
			update()
		}
	}
}

// explainSkipped reports why a rebuild request did not start.
func explainSkipped(cmd *cobra.Command, a *app, force bool) error {
	active := a.manager.ActiveGeneration()
	if !force && active.FirstBuildComplete && a.cfg.Rebuild.MaxAge > 0 &&
		time.Since(active.BuiltAt) < a.cfg.Rebuild.MaxAge {
		_, err := fmt.Fprintf(cmd.OutOrStdout(),
			"Index is fresh: generation %s with %d records, built %s ago.\nUse --force to rebuild now.\n",
			active.GenerationID, active.RecordCount, time.Since(active.BuiltAt).Round(time.Second))
		return err
	}
	return amanerrors.New(amanerrors.ErrCodeRebuildInProgress, "another rebuild is already running", nil).
		WithDetail("index_dir", a.manager.IndexDir()).
		WithSuggestion("wait for it to finish, or check progress with 'amanfind status'")
}
