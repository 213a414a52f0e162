package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/manifest/internal/config"
	"github.com/harrison/manifest/internal/manifest"
)

// NewStatsCommand creates the stats command
func NewStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print manifest discovery and ingestion counters",
		Long: `Print aggregate counters from the manifest: how many files each discovery
status holds, and how far ingestion has progressed over the discovered set.

Examples:
  manifest stats
  manifest stats --db-path /var/lib/manifest.db`,
		Args: cobra.NoArgs,
		RunE: statsCommand,
	}

	cmd.Flags().String("db-path", config.DefaultBootstrapConfig().DBPath, "Path to the manifest SQLite database")

	return cmd
}

// statsCommand implements the stats command logic
func statsCommand(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db-path")

	store, err := manifest.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()

	stats, err := store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read discovery stats: %w", err)
	}
	ingStats, err := store.IngestionStats(ctx)
	if err != nil {
		return fmt.Errorf("read ingestion stats: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Manifest: %s\n", store.Path())
	fmt.Fprintf(out, "\nDiscovery:\n")
	fmt.Fprintf(out, "  Total files: %d\n", stats.Total)
	fmt.Fprintf(out, "  Discovered: %d\n", stats.Discovered)
	fmt.Fprintf(out, "  ACL captured: %d\n", stats.ACLCaptured)
	fmt.Fprintf(out, "  ACL failed: %d\n", stats.ACLFailed)
	fmt.Fprintf(out, "  Permission denied: %d\n", stats.PermissionDenied)
	fmt.Fprintf(out, "  Errors: %d\n", stats.Errors)
	fmt.Fprintf(out, "  Skipped: %d\n", stats.Skipped)
	fmt.Fprintf(out, "\nIngestion:\n")
	fmt.Fprintf(out, "  Eligible: %d\n", ingStats.Total)
	fmt.Fprintf(out, "  Pending: %d\n", ingStats.Pending)
	fmt.Fprintf(out, "  Ingesting: %d\n", ingStats.Ingesting)
	fmt.Fprintf(out, "  Completed: %d\n", ingStats.Completed)
	fmt.Fprintf(out, "  Failed: %d\n", ingStats.Failed)

	return nil
}
