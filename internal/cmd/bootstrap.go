package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrison/manifest/internal/config"
	"github.com/harrison/manifest/internal/engine"
)

// NewBootstrapCommand creates the bootstrap command
func NewBootstrapCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap <root-path>",
		Short: "Scan a filesystem tree into the manifest",
		Long: `Scan a filesystem tree and populate the SQLite manifest with one row per
file, capturing ACL metadata via getfacl (with a stat fallback).

The scan is idempotent: re-running over the same tree refreshes last_seen
on known paths without overwriting their captured metadata. Directories
are traversed but never stored.

Configuration is loaded from the --config file if present, then
BOOTSTRAP_* environment variables, then CLI flags, in increasing
precedence.

Examples:
  manifest bootstrap /data/documents
  manifest bootstrap /data/documents --workers 16 --db-path /var/lib/manifest.db
  manifest bootstrap /data/documents --acl-extractor stat --log-level debug`,
		Args: cobra.ExactArgs(1),
		RunE: bootstrapCommand,
	}

	cmd.Flags().String("config", "", "Path to YAML config file")
	cmd.Flags().String("db-path", "", "Path to the manifest SQLite database")
	cmd.Flags().Int("workers", 0, "Concurrent file workers (1-32)")
	cmd.Flags().Int("batch-size", 0, "Records per manifest write batch (100-5000)")
	cmd.Flags().Int("timeout", 0, "Per-file processing timeout in minutes (1-30)")
	cmd.Flags().Int("max-retries", 0, "Directory scan retry attempts (1-10)")
	cmd.Flags().Int("progress-interval", 0, "Log progress every N files")
	cmd.Flags().String("acl-extractor", "", "ACL strategy: getfacl, stat or noop")
	cmd.Flags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.Flags().String("log-dir", "", "Directory for run log files")

	return cmd
}

// bootstrapCommand implements the bootstrap command logic
func bootstrapCommand(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadBootstrapConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}

	cfg.RootPath = args[0]
	applyBootstrapFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, closeLog := newRunLogger(cmd.OutOrStdout(), cfg.LogDir, cfg.LogLevel)
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := engine.RunBootstrap(ctx, cfg, log)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
	return nil
}

// applyBootstrapFlags overrides cfg with any flags the user set explicitly.
func applyBootstrapFlags(cmd *cobra.Command, cfg *config.BootstrapConfig) {
	flags := cmd.Flags()

	if flags.Changed("db-path") {
		cfg.DBPath, _ = flags.GetString("db-path")
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("timeout") {
		cfg.FileTimeoutMinutes, _ = flags.GetInt("timeout")
	}
	if flags.Changed("max-retries") {
		cfg.MaxRetries, _ = flags.GetInt("max-retries")
	}
	if flags.Changed("progress-interval") {
		cfg.ProgressInterval, _ = flags.GetInt("progress-interval")
	}
	if flags.Changed("acl-extractor") {
		cfg.ACLExtractor, _ = flags.GetString("acl-extractor")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-dir") {
		cfg.LogDir, _ = flags.GetString("log-dir")
	}
}
