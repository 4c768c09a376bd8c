package cmd

import (
	"encoding/json"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanfind/internal/crawler"
	amanerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/lifecycle"
	"github.com/Aman-CERP/amanfind/internal/preflight"
)

func newDoctorCmd(flags *globalFlags) *cobra.Command {
	var jsonOut, verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that this machine can build and serve the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			roots, err := crawler.ConfiguredRoots(cfg.Paths.Roots).Resolve()
			if err != nil {
				return amanerrors.New(amanerrors.ErrCodeNoRoots, "failed to resolve crawl roots", err)
			}

			active, err := lifecycle.ReadActive(cfg.Index.Dir)
			if err != nil {
				slog.Warn("doctor_state_unreadable", slog.String("error", err.Error()))
			}

			results := preflight.New().RunAll(cmd.Context(), preflight.Target{
				IndexDir:       cfg.Index.Dir,
				ActiveLocation: active.Location,
				Roots:          roots,
			})
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				preflight.Print(cmd.OutOrStdout(), results, verbose)
			}
			if preflight.HasCriticalFailures(results) {
				return amanerrors.New(amanerrors.ErrCodeInvalidInput, "system check failed", nil).
					WithSuggestion("fix the FAIL entries above, or point index.dir at another volume")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for passing checks")
	return cmd
}
