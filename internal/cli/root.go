// Package cli provides the command-line interface for moviesync.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/raphaelgruber/moviesync/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	configPath string
	dryRun     bool

	// Global config and logger
	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error

	// stdout receives command output.
	stdout io.Writer = os.Stdout
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "moviesync",
	Short: "Incremental PostgreSQL to search index synchronizer",
	Long: `Moviesync keeps the full-text search index of the movies catalogue in
step with PostgreSQL.

Each pass reads the genres and persons modified since the last stored
watermark, loads them into SurrealDB in small retried chunks and then
advances the watermark. Passes repeat on an interval until interrupted.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		logger, closeLog = config.SetupLogger(cfg)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $MOVIESYNC_CONFIG)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "load into an in-memory index and a scratch checkpoint")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(searchCmd)
}
