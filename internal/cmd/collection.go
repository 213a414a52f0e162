package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/manifest/internal/config"
	"github.com/harrison/manifest/internal/ingest"
	"github.com/harrison/manifest/internal/logger"
)

// NewCollectionCommand creates the collection command group
func NewCollectionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collection",
		Short: "Manage collections on the document service",
	}

	cmd.AddCommand(newCollectionDeleteCommand())

	return cmd
}

func newCollectionDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>...",
		Short: "Delete one or more collections",
		Long: `Delete collections from the document service. The manifest itself is not
touched: ingestion statuses keep recording what was uploaded.

Examples:
  manifest collection delete documents
  manifest collection delete staging-a staging-b --ingestor-host ingest.internal`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultIngestionConfig()
			if err := cfg.ApplyEnv(); err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("ingestor-host") {
				cfg.IngestorHost, _ = flags.GetString("ingestor-host")
			}
			if flags.Changed("ingestor-port") {
				cfg.IngestorPort, _ = flags.GetInt("ingestor-port")
			}
			if flags.Changed("proxy") {
				cfg.ProxyURL, _ = flags.GetString("proxy")
			}

			client, err := ingest.NewClient(cfg.BaseURL(), ingest.ClientOptions{
				RequestTimeout: cfg.RequestTimeout,
				PollTimeout:    cfg.PollTimeout,
				ProxyURL:       cfg.ProxyURL,
			}, logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel))
			if err != nil {
				return err
			}

			if err := client.DeleteCollections(cmd.Context(), args); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d collection(s)\n", len(args))
			return nil
		},
	}

	cmd.Flags().String("ingestor-host", "", "Document service host")
	cmd.Flags().Int("ingestor-port", 0, "Document service port")
	cmd.Flags().String("proxy", "", "HTTP proxy URL for outbound requests")

	return cmd
}
