// Package cli provides the command-line interface for onboard.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/raphaelgruber/onboard-go/internal/client"
	"github.com/raphaelgruber/onboard-go/internal/config"
	"github.com/raphaelgruber/onboard-go/internal/jobstore"
	"github.com/raphaelgruber/onboard-go/internal/metrics"
	"github.com/raphaelgruber/onboard-go/internal/scraper"
	"github.com/raphaelgruber/onboard-go/internal/stream"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	configPath string
	storeFlag  string

	// Global config and shared components
	cfg       config.Config
	logger    *slog.Logger
	apiClient *client.Client
	store     *jobstore.Store
	storeDesc string
	collector *metrics.Collector

	// cleanups run after every command, in reverse order
	cleanups []func()
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Company profile onboarding from a domain name",
	Long: `Onboard submits a company domain to the scraping service, follows the job
as it runs and keeps the finished company profile for the editor.

A running job is remembered locally for 24 hours, so an interrupted session
can be picked up again with 'onboard resume'.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if storeFlag != "" {
			cfg.Store = storeFlag
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		// The progress view owns the terminal, so console logs only go out in plain verbose runs.
		var console io.Writer
		if verbose && !useProgressView() {
			console = os.Stderr
		}
		var closeLog func() error
		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel, console)
		cleanups = append(cleanups, func() { _ = closeLog() })
		slog.SetDefault(logger)

		collector = metrics.NewCollector()
		apiClient = client.New(client.Options{
			BaseURL:     cfg.APIBaseURL,
			Timeout:     cfg.RequestTimeout,
			MaxAttempts: cfg.RequestAttempts,
			RetryDelay:  cfg.RequestRetryDelay,
			Metrics:     collector,
			Logger:      logger,
		})

		kv, closeKV, err := openKV(cmd.Context())
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.Store, err)
		}
		cleanups = append(cleanups, closeKV)
		store = jobstore.New(kv, jobstore.Options{Expiry: cfg.JobExpiry, Logger: logger})
		storeDesc = describeStore(kv)

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if verbose && collector != nil {
			printMetrics(cmd.ErrOrStderr(), collector.Snapshot())
		}
	},
}

// openKV connects the configured persistence backend.
func openKV(ctx context.Context) (jobstore.KV, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return jobstore.NewMemoryKV(), func() {}, nil
	case config.StoreSurrealDB:
		kv, err := jobstore.NewSurrealKV(ctx, jobstore.SurrealConfig{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return kv, func() {
			if err := kv.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}, nil
	default:
		return jobstore.NewFileKV(cfg.StorePath), func() {}, nil
	}
}

// describeStore names where the job record lives.
func describeStore(kv jobstore.KV) string {
	switch kv := kv.(type) {
	case *jobstore.FileKV:
		return kv.Path()
	case *jobstore.SurrealKV:
		return fmt.Sprintf("surrealdb %s (%s/%s)", cfg.SurrealDBURL, cfg.SurrealDBNamespace, cfg.SurrealDBDatabase)
	default:
		return "memory (not persisted)"
	}
}

// newController wires the job lifecycle controller from the global components.
func newController() *scraper.Controller {
	return scraper.New(apiClient, store, scraper.Options{
		ProgressLogSize: cfg.ProgressLogSize,
		Stream:          streamOptions(cfg, collector, logger),
		Logger:          logger,
	})
}

// streamOptions maps the reconnect settings onto the session options.
func streamOptions(c config.Config, m *metrics.Collector, l *slog.Logger) stream.Options {
	maxRetries := c.StreamMaxRetries
	if maxRetries == 0 {
		maxRetries = stream.NoReconnect
	}
	return stream.Options{
		MaxRetries: maxRetries,
		RetryDelay: c.StreamRetryDelay,
		Metrics:    m,
		Logger:     l,
	}
}

// useProgressView reports whether job progress should use the interactive view.
func useProgressView() bool {
	return !plainOutput && term.IsTerminal(int(os.Stdout.Fd()))
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output and request metrics")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "job record store: memory, file or surrealdb")

	// Add subcommands
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resultCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(healthCmd)
}
