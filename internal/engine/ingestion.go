package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/harrison/manifest/internal/config"
	"github.com/harrison/manifest/internal/ingest"
	"github.com/harrison/manifest/internal/logger"
	"github.com/harrison/manifest/internal/manifest"
)

// Ingestion runs the upload pipeline: drain pending manifest rows into the
// document service in resumable batches.
type Ingestion struct {
	state
	dbPath    string
	lastStats *ingest.RunStats
}

// NewIngestion creates an ingestion engine.
func NewIngestion(log logger.Logger) *Ingestion {
	return &Ingestion{state: state{log: log}}
}

// Start validates cfg and launches the ingestion run in the background,
// returning the job ID. It fails if this engine is already running or if
// another process holds the manifest lock.
func (i *Ingestion) Start(ctx context.Context, cfg *config.IngestionConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid configuration: %w", err)
	}

	jobID, runCtx, err := i.begin(ctx, cfg.DBPath, cfg)
	if err != nil {
		return "", err
	}

	i.mu.Lock()
	i.dbPath = cfg.DBPath
	i.lastStats = nil
	i.mu.Unlock()

	go func() {
		stats, runErr := RunIngestion(runCtx, cfg, i.log)
		i.mu.Lock()
		i.lastStats = stats
		i.mu.Unlock()
		i.finish(runErr)
	}()

	return jobID, nil
}

// LastStats returns the counters from the most recent run, or nil if no
// run has produced any.
func (i *Ingestion) LastStats() *ingest.RunStats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastStats
}

// Stats reads the ingestion-side counters from the manifest this engine
// was last started against.
func (i *Ingestion) Stats(ctx context.Context) (manifest.IngestStats, error) {
	i.mu.Lock()
	dbPath := i.dbPath
	i.mu.Unlock()

	if dbPath == "" {
		return manifest.IngestStats{}, errors.New("engine has not been started")
	}

	store, err := manifest.NewStore(dbPath)
	if err != nil {
		return manifest.IngestStats{}, fmt.Errorf("open manifest: %w", err)
	}
	defer store.Close()
	return store.IngestionStats(ctx)
}

// RunIngestion executes one ingestion run synchronously. It prepares the
// collection, loads the server-side dedup set, reverts rows stranded in
// "ingesting" by a previous crash, resumes from the checkpoint when asked,
// and drives the batch processor to completion.
func RunIngestion(ctx context.Context, cfg *config.IngestionConfig, log logger.Logger) (*ingest.RunStats, error) {
	store, err := manifest.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer store.Close()

	client, err := ingest.NewClient(cfg.BaseURL(), ingest.ClientOptions{
		RequestTimeout: cfg.RequestTimeout,
		PollTimeout:    cfg.PollTimeout,
		ProxyURL:       cfg.ProxyURL,
	}, log)
	if err != nil {
		return nil, err
	}

	repo := ingest.NewRepository(store)
	checkpoints := ingest.NewCheckpointManager(cfg.CheckpointFile, log)

	if cfg.CreateCollection {
		err := client.CreateCollection(ctx, cfg.CollectionName, cfg.EmbeddingDimension, nil)
		switch {
		case err == nil:
			log.LogEvent("info", "collection_created", logger.F("collection", cfg.CollectionName))
		case ingest.IsAlreadyExists(err):
			log.LogEvent("info", "collection_exists", logger.F("collection", cfg.CollectionName))
		default:
			return nil, fmt.Errorf("create collection %s: %w", cfg.CollectionName, err)
		}
	}

	var existingDocs map[string]struct{}
	if cfg.SkipExisting {
		existingDocs, err = client.ListDocuments(ctx, cfg.CollectionName)
		if err != nil {
			// Dedup is an optimization: re-uploading is safe, so a listing
			// failure downgrades to a warning.
			log.LogWarn(fmt.Sprintf("Failed to list existing documents, dedup disabled: %v", err))
			existingDocs = nil
		}
	}

	reset, err := repo.ResetInFlight(ctx)
	if err != nil {
		return nil, fmt.Errorf("reset in-flight rows: %w", err)
	}
	if reset > 0 {
		log.LogEvent("warn", "stale_ingesting_rows_reset", logger.F("count", reset))
	}

	offset, batchNum := 0, 0
	if cfg.Resume {
		if cp := checkpoints.Load(); cp != nil {
			offset, batchNum = cp.Offset, cp.BatchNum
			log.LogEvent("info", "resuming_from_checkpoint",
				logger.F("offset", offset),
				logger.F("batch_num", batchNum),
			)
		} else {
			log.LogInfo("No checkpoint found, starting from the beginning")
		}
	}

	processor := ingest.NewProcessor(repo, client, checkpoints, cfg, existingDocs, log)
	stats, err := processor.Run(ctx, offset, batchNum)
	if err != nil {
		return stats, err
	}

	if cfg.DeleteCollection {
		if err := client.DeleteCollections(ctx, []string{cfg.CollectionName}); err != nil {
			return stats, fmt.Errorf("delete collection %s: %w", cfg.CollectionName, err)
		}
		log.LogEvent("info", "collection_deleted", logger.F("collection", cfg.CollectionName))
	}

	log.LogInfo(stats.Summary())
	return stats, nil
}
