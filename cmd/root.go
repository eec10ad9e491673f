// =============================================================================
// ICBU Broker - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Every other command
// is attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (broker)
//   ├── serveCmd   (broker serve)
//   ├── schemaCmd  (broker schema parse|template|validate|payload|fill)
//   ├── youtubeCmd (broker youtube download|clean)
//   ├── configCmd  (broker config)
//   └── versionCmd (broker version)
//
// The root command owns the global flags (--config, --verbose) and the
// shared loader for configuration and logging.
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/billlvtech/icbu-broker/internal/config"
	"github.com/billlvtech/icbu-broker/internal/logging"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the configuration file.
var cfgFile string

// verbose forces debug logging regardless of logging.level.
var verbose bool

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "broker",
	Short: "ICBU Broker - Alibaba.com seller integration and media download backend",
	Long: `ICBU Broker is the backend behind the seller console. It handles:

  - OAuth against the Alibaba.com Open Platform and token storage
  - Product schema parsing, Excel templates, validation and publishing
  - Photobank, video, category and SKU API wrappers
  - Background YouTube downloads through yt-dlp

Example Usage:
  broker serve                          # Start the HTTP API
  broker serve --config ./prod.yaml     # Use a custom configuration file
  broker schema template schema.xml     # Build an Excel template offline
  broker config                         # Print the effective configuration`,

	SilenceUsage: true,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		config.DefaultConfigPath,
		"Path to the configuration file",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable verbose output for debugging",
	)
}

// loadRuntime loads the configuration and builds the logger every command
// shares.
func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, logger, nil
}

// logConfig writes the masked effective configuration, one key per line.
func logConfig(cfg *config.Config, logger *zap.Logger) {
	masked := cfg.Masked()
	logger.Info("========== Broker Configuration ==========")
	for _, key := range cfg.MaskedKeys() {
		logger.Info(key + " = " + masked[key])
	}
	logger.Info("========== End of Configuration ==========")
}
