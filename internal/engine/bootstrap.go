package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/harrison/manifest/internal/acl"
	"github.com/harrison/manifest/internal/config"
	"github.com/harrison/manifest/internal/discovery"
	"github.com/harrison/manifest/internal/logger"
	"github.com/harrison/manifest/internal/manifest"
)

// Bootstrap runs the discovery pipeline: walk the tree, capture ACLs, and
// populate the manifest.
type Bootstrap struct {
	state
	dbPath    string
	lastStats *manifest.BootstrapStats
}

// NewBootstrap creates a bootstrap engine.
func NewBootstrap(log logger.Logger) *Bootstrap {
	return &Bootstrap{state: state{log: log}}
}

// Start validates cfg and launches the bootstrap run in the background,
// returning the job ID. It fails if this engine is already running or if
// another process holds the manifest lock.
func (b *Bootstrap) Start(ctx context.Context, cfg *config.BootstrapConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid configuration: %w", err)
	}

	jobID, runCtx, err := b.begin(ctx, cfg.DBPath, cfg)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	b.dbPath = cfg.DBPath
	b.lastStats = nil
	b.mu.Unlock()

	go func() {
		stats, runErr := RunBootstrap(runCtx, cfg, b.log)
		b.mu.Lock()
		b.lastStats = stats
		b.mu.Unlock()
		b.finish(runErr)
	}()

	return jobID, nil
}

// LastStats returns the counters from the most recent run, or nil if no
// run has produced any.
func (b *Bootstrap) LastStats() *manifest.BootstrapStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastStats
}

// Stats reads the discovery-side counters from the manifest this engine
// was last started against.
func (b *Bootstrap) Stats(ctx context.Context) (manifest.Stats, error) {
	b.mu.Lock()
	dbPath := b.dbPath
	b.mu.Unlock()

	if dbPath == "" {
		return manifest.Stats{}, errors.New("engine has not been started")
	}
	return ManifestStats(ctx, dbPath)
}

// RunBootstrap executes one discovery run synchronously: open the store,
// stream walker records into the batch processor, and return the run
// counters. This is the same pipeline the engine drives in the background.
func RunBootstrap(ctx context.Context, cfg *config.BootstrapConfig, log logger.Logger) (*manifest.BootstrapStats, error) {
	// An unusable root is a configuration error, not a walk result.
	if _, err := os.Stat(cfg.RootPath); err != nil {
		return nil, fmt.Errorf("root path %s: %w", cfg.RootPath, err)
	}
	if _, err := os.ReadDir(cfg.RootPath); err != nil {
		return nil, fmt.Errorf("root path %s not readable: %w", cfg.RootPath, err)
	}

	store, err := manifest.NewStoreWithOptions(cfg.DBPath, manifest.Options{CacheSizeMB: cfg.SQLiteCacheMB})
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer store.Close()

	extractor, err := acl.New(cfg.ACLExtractor, cfg.FileTimeout())
	if err != nil {
		return nil, err
	}

	log.LogEvent("info", "bootstrap_started",
		logger.F("root", cfg.RootPath),
		logger.F("db", cfg.DBPath),
		logger.F("workers", cfg.Workers),
		logger.F("acl_extractor", cfg.ACLExtractor),
	)

	walker := discovery.NewWalker(cfg, extractor, log)
	records := walker.Walk(ctx, cfg.RootPath)

	processor := discovery.NewBatchProcessor(store, cfg.BatchSize, cfg.ProgressInterval, log)
	stats, err := processor.ProcessStream(ctx, records)
	if err != nil {
		return stats, err
	}

	log.LogInfo(stats.Summary())
	return stats, nil
}

// ManifestStats opens the manifest at dbPath read-style and returns its
// discovery-side counters.
func ManifestStats(ctx context.Context, dbPath string) (manifest.Stats, error) {
	store, err := manifest.NewStore(dbPath)
	if err != nil {
		return manifest.Stats{}, fmt.Errorf("open manifest: %w", err)
	}
	defer store.Close()
	return store.Stats(ctx)
}
