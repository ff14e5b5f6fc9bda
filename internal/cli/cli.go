package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pfrederiksen/dpwh-projects/internal/config"
	"github.com/pfrederiksen/dpwh-projects/internal/logger"
	"github.com/pfrederiksen/dpwh-projects/internal/metrics"
	"github.com/pfrederiksen/dpwh-projects/internal/rotation"
	"github.com/pfrederiksen/dpwh-projects/internal/scraper"
	"github.com/pfrederiksen/dpwh-projects/internal/tracker"
)

const (
	ExitSuccess = 0
	ExitError   = 1
)

var (
	flagConfig   string
	flagDataDir  string
	flagStorage  string
	flagLogLevel string
	flagVerbose  bool
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dpwh-projects",
		Short: "Track DPWH infrastructure projects across regions",
		Long: `A CLI tool to track infrastructure projects published by the Philippine
Department of Public Works and Highways. Each scrape records new, updated and
potentially deleted projects in a change log.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: config.yaml in ./configs, . or ~/.dpwh-projects)")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Data directory for the file and sqlite backends")
	cmd.PersistentFlags().StringVar(&flagStorage, "storage", "", "Storage driver: file, sqlite, mysql or memory")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn or error")
	cmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable verbose logging")

	cmd.AddCommand(
		newScrapeCmd(),
		newScrapeNextCmd(),
		newRotationCmd(),
		newSeedRegionsCmd(),
		newChangesCmd(),
		newWatchCmd(),
	)

	return cmd
}

// app holds what a command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	backend *backend
	metrics *metrics.Recorder
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	if flagDataDir != "" {
		cfg.Storage.DataDir = flagDataDir
	}
	if flagStorage != "" {
		cfg.Storage.Driver = strings.ToLower(flagStorage)
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagVerbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, cfg.Validate()
}

// newApp loads configuration, sets up logging and opens the storage backend.
func newApp(ctx context.Context, dryRun bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := logger.NewFromConfig(cfg.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger.SetDefault(log)

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if dryRun {
		b.enableDryRun()
	}
	b.recordChanges()

	return &app{cfg: cfg, log: log, backend: b, metrics: metrics.New()}, nil
}

func (a *app) Close() {
	if err := a.backend.Close(); err != nil {
		a.log.Warn("Failed to close storage", logger.Fields{"error": err.Error()})
	}
}

// tracker builds a Tracker from the loaded configuration.
func (a *app) tracker() (*tracker.Tracker, error) {
	policy, err := rotation.ParsePolicy(a.cfg.Schedule.Policy)
	if err != nil {
		return nil, err
	}

	opts := []scraper.Option{scraper.WithTimeout(a.cfg.Scraper.Timeout)}
	if a.cfg.Scraper.UserAgent != "" {
		opts = append(opts, scraper.WithUserAgent(a.cfg.Scraper.UserAgent))
	}

	return tracker.New(tracker.Deps{
		Regions:  a.backend.regions,
		Projects: a.backend.projects,
		Changes:  a.backend.changes,
		Cursor:   a.backend.cursor,
		Fetcher:  scraper.NewFetcher(opts...),
		Locker:   a.backend.locker,
		Metrics:  a.metrics,
		Logger:   a.log,
	}, tracker.Options{
		MissingThreshold: a.cfg.Schedule.MissingThreshold,
		MinDelay:         a.cfg.Schedule.MinDelay,
		MaxDelay:         a.cfg.Schedule.MaxDelay,
		Policy:           policy,
		CursorTTL:        a.cfg.Schedule.CursorTTL,
		LeaseTTL:         a.cfg.Schedule.LeaseTTL,
	}), nil
}

// parseFormat validates an --format value.
func parseFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(s))
	if format != FormatText && format != FormatJSON {
		return "", fmt.Errorf("invalid format: %s (must be 'text' or 'json')", s)
	}
	return format, nil
}

// Execute runs the CLI
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
}
