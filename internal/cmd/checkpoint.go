package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/manifest/internal/config"
	"github.com/harrison/manifest/internal/ingest"
	"github.com/harrison/manifest/internal/logger"
)

// NewCheckpointCommand creates the checkpoint command group
func NewCheckpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage the ingestion checkpoint",
	}

	cmd.AddCommand(newCheckpointShowCommand())
	cmd.AddCommand(newCheckpointClearCommand())

	return cmd
}

func newCheckpointShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the saved ingestion checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("checkpoint-file")
			cm := ingest.NewCheckpointManager(path, logger.NewNoOpLogger())

			cp := cm.Load()
			if cp == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No checkpoint at %s\n", path)
				return nil
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checkpoint: %s\n", path)
			fmt.Fprintf(out, "  Offset: %d\n", cp.Offset)
			fmt.Fprintf(out, "  Batch: %d\n", cp.BatchNum)
			fmt.Fprintf(out, "  Processed: %d\n", cp.TotalProcessed)
			fmt.Fprintf(out, "  Failed: %d\n", cp.TotalFailed)
			fmt.Fprintf(out, "  Saved at: %s\n", cp.Timestamp)
			return nil
		},
	}

	cmd.Flags().String("checkpoint-file", config.DefaultIngestionConfig().CheckpointFile, "Path to the checkpoint file")
	return cmd
}

func newCheckpointClearCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the saved ingestion checkpoint",
		Long: `Delete the checkpoint file so the next ingestion run starts from the
beginning of the manifest. Checkpoints are never removed automatically,
even after a clean run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("checkpoint-file")
			cm := ingest.NewCheckpointManager(path, logger.NewNoOpLogger())

			if err := cm.Delete(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checkpoint cleared: %s\n", path)
			return nil
		},
	}

	cmd.Flags().String("checkpoint-file", config.DefaultIngestionConfig().CheckpointFile, "Path to the checkpoint file")
	return cmd
}
