package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Aman-CERP/amanfind/internal/config"
	"github.com/Aman-CERP/amanfind/internal/crawler"
	amanerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/history"
	"github.com/Aman-CERP/amanfind/internal/lifecycle"
	"github.com/Aman-CERP/amanfind/internal/logging"
	"github.com/Aman-CERP/amanfind/internal/store"
)

// loadConfig resolves the effective configuration, with command-line
// overrides applied last.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, amanerrors.ConfigError("failed to load configuration", err).
			WithSuggestion("check the file with 'amanfind config show'")
	}
	if flags.indexDir != "" {
		cfg.Index.Dir = config.ExpandHome(flags.indexDir)
	}
	if flags.backend != "" {
		cfg.Index.Backend = strings.ToLower(flags.backend)
	}
	if err := cfg.Validate(); err != nil {
		return nil, amanerrors.ConfigError(err.Error(), err)
	}
	return cfg, nil
}

// setupLogging writes JSON logs to the rotating log file. stderr mirrors
// them for long-running commands and in debug mode.
func setupLogging(flags *globalFlags, cfg *config.Config, stderr bool) (*slog.Logger, func(), error) {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Server.LogLevel
	logCfg.WriteToStderr = stderr
	if flags.debug {
		logCfg = logging.DebugConfig()
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

// app bundles what the index, search, status and serve commands share.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	history *history.Store
	manager *lifecycle.Manager
	closers []func()
}

type appOptions struct {
	// stderrLogs mirrors logs to stderr.
	stderrLogs bool
	// roots overrides the configured roots for the manager's default.
	roots *crawler.Roots
}

// openApp loads configuration, sets up logging and opens the lifecycle
// manager. Open runs startup recovery, so a process that crashed mid-swap
// is repaired before anything else happens.
func openApp(ctx context.Context, flags *globalFlags, opts appOptions) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	logger, logCleanup, err := setupLogging(flags, cfg, opts.stderrLogs)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []func(){logCleanup}}

	storeOpts := store.Options{BatchSize: cfg.Index.BatchSize, Logger: logger}
	engine, err := store.NewEngine(cfg.Index.Backend, storeOpts)
	if err != nil {
		a.Close()
		return nil, amanerrors.ConfigError(err.Error(), err)
	}

	// The index directory lives on a crawled volume; keep it out of its
	// own index.
	restricted := append(slices.Clone(cfg.Paths.Restricted), cfg.Index.Dir)
	crawl := crawler.New(crawler.Options{
		Policy:          crawler.NewPolicy(restricted),
		Workers:         cfg.Crawl.Workers,
		Timeout:         cfg.Crawl.Timeout,
		EmitDirectories: cfg.Index.EmitDirectories,
		Logger:          logger,
	})

	hist, err := history.OpenDir(cfg.Index.Dir)
	if err != nil {
		// History is diagnostic only.
		logger.Warn("history_unavailable", slog.String("error", err.Error()))
	} else {
		a.history = hist
		a.closers = append(a.closers, func() { _ = hist.Close() })
	}

	roots := crawler.ConfiguredRoots(cfg.Paths.Roots)
	if opts.roots != nil {
		roots = *opts.roots
	}

	lcfg := lifecycle.Config{
		IndexDir:          cfg.Index.Dir,
		Engine:            engine,
		Crawler:           crawl,
		Roots:             roots,
		StoreOptions:      storeOpts,
		MaxAge:            cfg.Rebuild.MaxAge,
		CleanupRetryDelay: cfg.Rebuild.CleanupRetryDelay,
		Logger:            logger,
	}
	if a.history != nil {
		lcfg.History = a.history
	}
	m, err := lifecycle.Open(ctx, lcfg)
	if err != nil {
		a.Close()
		return nil, amanerrors.New(amanerrors.ErrCodeIndexFailed, "failed to open index", err).
			WithDetail("index_dir", cfg.Index.Dir)
	}
	a.manager = m
	return a, nil
}

// Close releases everything in reverse order of acquisition.
func (a *app) Close() {
	if a.manager != nil {
		if err := a.manager.Close(); err != nil {
			a.logger.Warn("manager_close_failed", slog.String("error", err.Error()))
		}
	}
	for _, c := range slices.Backward(a.closers) {
		c()
	}
}

// pruneHistory trims old history rows after a build.
func (a *app) pruneHistory(ctx context.Context) {
	if a.history == nil {
		return
	}
	if err := a.history.Prune(ctx, history.DefaultKeep); err != nil {
		a.logger.Warn("history_prune_failed", slog.String("error", err.Error()))
	}
}
