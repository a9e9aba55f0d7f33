// Package cli provides the command-line interface for methodkb.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/methodkb/internal/config"
	"github.com/raphaelgruber/methodkb/internal/db"
	"github.com/raphaelgruber/methodkb/internal/llm"
	"github.com/raphaelgruber/methodkb/internal/metrics"
	"github.com/raphaelgruber/methodkb/internal/retry"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config, logger and metrics
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func() error
	collector *metrics.Collector

	// Lazy-initialized components
	dbClient *db.Client
	embedder *llm.Embedder
	model    *llm.Model
)

// Process exit codes.
const (
	ExitOK       = 0
	ExitError    = 1
	ExitGateFail = 2
)

// exitError carries a non-default exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// withCode wraps err so Execute exits with code.
func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "methodkb",
	Short: "Methodology knowledge base pipeline",
	Long: `methodkb turns extracted book content into validated, versioned
methodology records and publishes them into a SurrealDB graph.

The pipeline runs extraction, compilation, review, the quality gate,
glossary sync, graph publishing, semantic linking and a release summary.
Every run is recorded in runs/<run_id>/manifest.json.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if err := cfg.Validate(); err != nil {
			return err
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, level)
		collector = metrics.NewCollector()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeResources()
	},
}

func closeResources() {
	if dbClient != nil {
		if err := dbClient.Close(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
		}
		dbClient = nil
	}
	if closeLog != nil {
		_ = closeLog()
		closeLog = nil
	}
}

// retryConfig is the retry policy for store and LLM calls.
func retryConfig() retry.Config {
	return retry.Default().WithAttempts(cfg.RetryAttempts)
}

// getStore connects to SurrealDB and initializes the schema on first use.
func getStore(ctx context.Context) (*db.Client, error) {
	if dbClient != nil {
		return dbClient, nil
	}
	// The dial is bounded by the DB timeout; a step waiting on an
	// unreachable store fails instead of riding out every reconnect attempt.
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DBTimeout)
	defer cancel()
	client, err := db.NewClient(dialCtx, db.ConfigFrom(cfg), collector, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := client.InitSchema(dialCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	dbClient = client
	return dbClient, nil
}

// getModel creates the LLM on first use.
func getModel(ctx context.Context) (*llm.Model, error) {
	if model != nil {
		return model, nil
	}
	m, err := llm.NewModel(ctx, cfg, collector, logger)
	if err != nil {
		return nil, fmt.Errorf("init model: %w", err)
	}
	model = m.WithRetry(retryConfig())
	return model, nil
}

// getEmbedder creates the embedder on first use.
func getEmbedder(ctx context.Context) (*llm.Embedder, error) {
	if embedder != nil {
		return embedder, nil
	}
	e, err := llm.NewEmbedder(ctx, cfg, collector, logger)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	embedder = e.WithRetry(retryConfig())
	return embedder, nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	closeResources()
	if err == nil {
		return ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return ExitError
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(glossaryCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(versionCmd)
}
