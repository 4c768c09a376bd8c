package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanfind/internal/fsutil"
	"github.com/Aman-CERP/amanfind/internal/lifecycle"
	"github.com/Aman-CERP/amanfind/internal/ui"
)

// statusHistoryLimit is how many builds status lists.
const statusHistoryLimit = 5

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var jsonOut, noColor bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the active index generation and recent builds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, flags, jsonOut, noColor)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output status as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colors")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, flags *globalFlags, jsonOut, noColor bool) error {
	a, err := openApp(ctx, flags, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	info := collectStatus(ctx, a)
	r := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor())
	if jsonOut {
		return r.RenderJSON(info)
	}
	return r.Render(info)
}

func collectStatus(ctx context.Context, a *app) ui.StatusInfo {
	m := a.manager
	active := m.ActiveGeneration()

	state := m.State().String()
	if m.BuildingElsewhere() {
		state = lifecycle.StateBuilding.String()
	}

	info := ui.StatusInfo{
		IndexDir:           m.IndexDir(),
		Backend:            a.cfg.Index.Backend,
		State:              state,
		FirstBuildComplete: active.FirstBuildComplete,
		GenerationID:       active.GenerationID,
		Location:           active.Location,
		BuiltAt:            active.BuiltAt,
		RecordCount:        active.RecordCount,
	}
	if active.Backend != "" {
		info.Backend = active.Backend
	}
	if active.Location != "" {
		if size, err := fsutil.TreeSize(active.Location); err == nil {
			info.IndexSize = size
		}
	}

	if a.history == nil {
		return info
	}
	entries, err := a.history.Recent(ctx, statusHistoryLimit)
	if err != nil {
		a.logger.Warn("history_read_failed", slog.String("error", err.Error()))
		return info
	}
	for _, e := range entries {
		info.Builds = append(info.Builds, ui.BuildSummary{
			GenerationID: e.GenerationID,
			Outcome:      string(e.Outcome),
			RecordCount:  e.RecordCount,
			Skipped:      e.SkippedCount,
			Error:        e.Error,
			FinishedAt:   e.FinishedAt,
			Duration:     e.Duration(),
		})
	}
	return info
}
