package ingest

import (
	"context"
	"os"

	"github.com/harrison/manifest/internal/manifest"
)

// Repository is the ingestion engine's view of the manifest: paginated reads
// of eligible rows and single-row status transitions. The underlying query
// orders by path, so (batchSize, offset) is a stable cursor across calls.
type Repository struct {
	store *manifest.Store
}

// NewRepository wraps a manifest store.
func NewRepository(store *manifest.Store) *Repository {
	return &Repository{store: store}
}

// FetchPending returns the next page of rows eligible for ingestion.
func (r *Repository) FetchPending(ctx context.Context, batchSize, offset int) ([]manifest.FileRecord, error) {
	return r.store.FetchPending(ctx, batchSize, offset)
}

// UpdateIngestion transitions one row's ingestion status.
func (r *Repository) UpdateIngestion(ctx context.Context, path string, status manifest.IngestionStatus, errMsg string) error {
	return r.store.UpdateIngestion(ctx, path, status, errMsg)
}

// ResetInFlight reverts rows stranded in "ingesting" by a killed run.
func (r *Repository) ResetInFlight(ctx context.Context) (int64, error) {
	return r.store.ResetInFlight(ctx)
}

// Stats returns the manifest's ingestion-side counters.
func (r *Repository) Stats(ctx context.Context) (manifest.IngestStats, error) {
	return r.store.IngestionStats(ctx)
}

// FileExists checks that a manifest row still has a backing file on disk.
func (r *Repository) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
