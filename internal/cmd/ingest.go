package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/manifest/internal/config"
	"github.com/harrison/manifest/internal/engine"
)

// NewIngestCommand creates the ingest command
func NewIngestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Upload pending manifest rows to the document service",
		Long: `Upload files recorded in the manifest to the document processing service
in batches, polling each server-side task to completion.

Progress is checkpointed periodically and on interrupt, so an aborted run
can be resumed with --resume. Rows left in "ingesting" by a killed run
are reverted to pending at startup.

Configuration is loaded from the --config file if present, then
INGESTION_* environment variables, then CLI flags, in increasing
precedence.

Examples:
  manifest ingest --db-path /var/lib/manifest.db
  manifest ingest --collection-name reports --ingestor-host ingest.internal
  manifest ingest --resume --continue-on-error=false
  manifest ingest --batch-size 50 --batch-delay 2s`,
		Args: cobra.NoArgs,
		RunE: ingestCommand,
	}

	cmd.Flags().String("config", "", "Path to YAML config file")
	cmd.Flags().String("db-path", "", "Path to the manifest SQLite database")
	cmd.Flags().String("checkpoint-file", "", "Path to the resume checkpoint file")
	cmd.Flags().String("collection-name", "", "Target collection name")
	cmd.Flags().String("ingestor-host", "", "Document service host")
	cmd.Flags().Int("ingestor-port", 0, "Document service port")
	cmd.Flags().Int("batch-size", 0, "Files per upload batch (1-1000)")
	cmd.Flags().Int("checkpoint-interval", 0, "Checkpoint every N batches")
	cmd.Flags().Duration("batch-delay", 0, "Pause between batches (e.g. 2s)")
	cmd.Flags().Int("chunk-size", 0, "Server-side chunk size")
	cmd.Flags().Int("chunk-overlap", 0, "Server-side chunk overlap")
	cmd.Flags().Bool("create-collection", true, "Create the collection before uploading")
	cmd.Flags().Bool("delete-collection", false, "Delete the collection after a successful run")
	cmd.Flags().Bool("resume", false, "Resume from the saved checkpoint")
	cmd.Flags().Bool("continue-on-error", true, "Keep going after a failed batch")
	cmd.Flags().Bool("skip-existing", true, "Skip documents already present in the collection")
	cmd.Flags().Bool("generate-summary", true, "Ask the server to generate document summaries")
	cmd.Flags().Bool("blocking", false, "Request synchronous server-side processing")
	cmd.Flags().String("proxy", "", "HTTP proxy URL for outbound requests")
	cmd.Flags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.Flags().String("log-dir", "", "Directory for run log files")

	return cmd
}

// ingestCommand implements the ingest command logic
func ingestCommand(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadIngestionConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}

	applyIngestFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, closeLog := newRunLogger(cmd.OutOrStdout(), cfg.LogDir, cfg.LogLevel)
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := engine.RunIngestion(ctx, cfg, log)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), stats.Summary())
	return nil
}

// applyIngestFlags overrides cfg with any flags the user set explicitly.
func applyIngestFlags(cmd *cobra.Command, cfg *config.IngestionConfig) {
	flags := cmd.Flags()

	strs := map[string]*string{
		"db-path":         &cfg.DBPath,
		"checkpoint-file": &cfg.CheckpointFile,
		"collection-name": &cfg.CollectionName,
		"ingestor-host":   &cfg.IngestorHost,
		"proxy":           &cfg.ProxyURL,
		"log-level":       &cfg.LogLevel,
		"log-dir":         &cfg.LogDir,
	}
	for name, dst := range strs {
		if flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}

	ints := map[string]*int{
		"ingestor-port":       &cfg.IngestorPort,
		"batch-size":          &cfg.BatchSize,
		"checkpoint-interval": &cfg.CheckpointInterval,
		"chunk-size":          &cfg.ChunkSize,
		"chunk-overlap":       &cfg.ChunkOverlap,
	}
	for name, dst := range ints {
		if flags.Changed(name) {
			*dst, _ = flags.GetInt(name)
		}
	}

	bools := map[string]*bool{
		"create-collection": &cfg.CreateCollection,
		"delete-collection": &cfg.DeleteCollection,
		"resume":            &cfg.Resume,
		"continue-on-error": &cfg.ContinueOnError,
		"skip-existing":     &cfg.SkipExisting,
		"generate-summary":  &cfg.GenerateSummary,
		"blocking":          &cfg.Blocking,
	}
	for name, dst := range bools {
		if flags.Changed(name) {
			*dst, _ = flags.GetBool(name)
		}
	}

	if flags.Changed("batch-delay") {
		var delay time.Duration
		delay, _ = flags.GetDuration("batch-delay")
		cfg.BatchDelay = delay
	}
}
