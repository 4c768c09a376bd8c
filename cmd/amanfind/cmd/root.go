// Package cmd provides the amanfind CLI commands.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	amanerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/logging"
	"github.com/Aman-CERP/amanfind/internal/profiling"
	"github.com/Aman-CERP/amanfind/pkg/version"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	indexDir   string
	backend    string
	debug      bool
	profile    profiling.Options
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}
	var session *profiling.Session

	cmd := &cobra.Command{
		Use:   "amanfind",
		Short: "Filename search over a local filesystem index",
		Long: `amanfind crawls your filesystem into a name index and answers
substring and wildcard queries against it.

Rebuilds happen in the background into a fresh generation; searches keep
using the previous generation until the new one is verified and swapped in.

  amanfind index            build or refresh the index
  amanfind search report    find files and folders named like "report"
  amanfind serve            keep the index fresh on a schedule`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if !flags.profile.Enabled() {
				return nil
			}
			s, err := profiling.Start(flags.profile)
			if err != nil {
				return err
			}
			session = s
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return session.Stop()
		},
	}
	cmd.SetVersionTemplate("amanfind version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Config file (default: user config)")
	pf.StringVar(&flags.indexDir, "index-dir", "", "Index directory (overrides index.dir)")
	pf.StringVar(&flags.backend, "backend", "", "Index backend: bleve, sqlite (overrides index.backend)")
	pf.BoolVar(&flags.debug, "debug", false, "Enable debug logging to stderr and "+logging.DefaultLogPath())
	pf.StringVar(&flags.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	pf.StringVar(&flags.profile.Heap, "profile-mem", "", "Write heap profile to file")
	pf.StringVar(&flags.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newIndexCmd(flags))
	cmd.AddCommand(newSearchCmd(flags))
	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newConfigCmd(flags))
	cmd.AddCommand(newDoctorCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints any error.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		slog.Error("command_failed", slog.String("error", err.Error()))
		_, _ = fmt.Fprint(root.ErrOrStderr(), amanerrors.FormatForCLI(err))
	}
	return err
}
