package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanfind/internal/query"
	"github.com/Aman-CERP/amanfind/internal/ui"
)

type searchOptions struct {
	limit     int
	filesOnly bool
	jsonOut   bool
	noColor   bool
}

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find files and directories by name",
		Long: `Match a name fragment against the active index generation.

Matching is case-insensitive. Plain text matches anywhere in a name; '*'
and '?' make it a wildcard pattern over the whole name.`,
		Example: `  amanfind search report
  amanfind search "*.pdf" --files --limit 20
  amanfind search invoice --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, flags, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Maximum number of results")
	cmd.Flags().BoolVar(&opts.filesOnly, "files", false, "Only return files")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colors")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, flags *globalFlags, text string, opts searchOptions) error {
	a, err := openApp(ctx, flags, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := query.NewService(query.Config{
		Source:     a.manager,
		MaxResults: a.cfg.Search.MaxResults,
		CacheSize:  a.cfg.Search.CacheSize,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}

	a.logger.Info("search_started", slog.String("query", text), slog.Int("limit", opts.limit))
	res, err := svc.Search(ctx, text, query.Options{Limit: opts.limit, FilesOnly: opts.filesOnly})
	if err != nil {
		return err
	}

	r := ui.NewResultsRenderer(cmd.OutOrStdout(), opts.noColor || ui.DetectNoColor())
	if opts.jsonOut {
		return r.RenderJSON(res.Matches)
	}
	if len(res.Matches) == 0 {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "No matches for %q.\n", res.Query)
		return err
	}
	if err := r.Render(res.Matches); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.ErrOrStderr(), "\n%d matches in %s (generation %s)\n",
		len(res.Matches), res.Duration.Round(100*time.Microsecond), shortID(res.GenerationID))
	return err
}

// shortID trims a generation ID for display.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
