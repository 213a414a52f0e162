package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for manifest
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Filesystem manifest bootstrap and ingestion",
		Long: `Manifest scans a filesystem tree into a SQLite manifest, capturing ACL
metadata for every file, and uploads the discovered files to a document
processing service in resumable batches.

The two phases are decoupled: bootstrap can run repeatedly to refresh the
manifest, and ingest drains whatever is pending, surviving interrupts via
checkpoints.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	// Add subcommands
	cmd.AddCommand(NewBootstrapCommand())
	cmd.AddCommand(NewIngestCommand())
	cmd.AddCommand(NewStatsCommand())
	cmd.AddCommand(NewCheckpointCommand())
	cmd.AddCommand(NewCollectionCommand())

	return cmd
}
