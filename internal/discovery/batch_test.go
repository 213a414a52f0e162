package discovery

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/manifest/internal/logger"
	"github.com/harrison/manifest/internal/manifest"
)

func newTestStore(t *testing.T) *manifest.Store {
	t.Helper()
	store, err := manifest.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())
	return store
}

func discoveredRecord(path string) manifest.FileRecord {
	size := int64(10)
	mtime := int64(1700000000)
	raw := "user::rw-"
	return manifest.FileRecord{
		FilePath:    path,
		FileName:    "f.txt",
		ParentDir:   "/data",
		Size:        &size,
		Mtime:       &mtime,
		RawACL:      &raw,
		ACLCaptured: true,
		Status:      manifest.StatusDiscovered,
	}
}

func streamOf(records ...manifest.FileRecord) <-chan manifest.FileRecord {
	ch := make(chan manifest.FileRecord, len(records))
	for _, r := range records {
		ch <- r
	}
	close(ch)
	return ch
}

func TestBatchProcessor_FlushesAndCounts(t *testing.T) {
	store := newTestStore(t)
	bp := NewBatchProcessor(store, 100, 10000, logger.NewNoOpLogger())

	records := []manifest.FileRecord{
		discoveredRecord("/data/a.txt"),
		discoveredRecord("/data/b.txt"),
		manifest.NewPermissionErrorRecord("/data/locked.txt", "Permission denied: open"),
		manifest.NewErrorRecord("/data/hung.txt", "Stat timeout after 300s"),
		manifest.NewSkippedRecord("/data/link", "Symlink skipped to prevent cycles"),
	}

	stats, err := bp.ProcessStream(context.Background(), streamOf(records...))
	require.NoError(t, err)

	assert.EqualValues(t, 5, stats.TotalDiscovered)
	assert.EqualValues(t, 5, stats.TotalAdded)
	assert.EqualValues(t, 0, stats.TotalSkipped)
	assert.EqualValues(t, 2, stats.ACLCaptured)
	assert.EqualValues(t, 1, stats.PermissionErrors)
	assert.EqualValues(t, 1, stats.OtherErrors)
	assert.EqualValues(t, 1, stats.ACLFailed)

	dbStats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, dbStats.Total)
	assert.EqualValues(t, 2, dbStats.Discovered)
	assert.EqualValues(t, 1, dbStats.PermissionDenied)
	assert.EqualValues(t, 1, dbStats.Errors)
	assert.EqualValues(t, 1, dbStats.Skipped)
}

func TestBatchProcessor_MultipleBatches(t *testing.T) {
	store := newTestStore(t)
	// batchSize 100 is the validated minimum for the engine; the
	// processor itself accepts any positive size
	bp := NewBatchProcessor(store, 3, 10000, logger.NewNoOpLogger())

	var records []manifest.FileRecord
	for i := 0; i < 10; i++ {
		records = append(records, discoveredRecord(fmt.Sprintf("/data/file-%02d.txt", i)))
	}

	stats, err := bp.ProcessStream(context.Background(), streamOf(records...))
	require.NoError(t, err)

	assert.EqualValues(t, 10, stats.TotalDiscovered)
	assert.EqualValues(t, 10, stats.TotalAdded)

	dbStats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 10, dbStats.Total)
}

func TestBatchProcessor_RescanIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	bp := NewBatchProcessor(store, 100, 10000, logger.NewNoOpLogger())

	records := []manifest.FileRecord{
		discoveredRecord("/data/a.txt"),
		discoveredRecord("/data/b.txt"),
	}

	first, err := bp.ProcessStream(context.Background(), streamOf(records...))
	require.NoError(t, err)
	assert.EqualValues(t, 2, first.TotalAdded)
	assert.EqualValues(t, 0, first.TotalSkipped)

	second, err := bp.ProcessStream(context.Background(), streamOf(records...))
	require.NoError(t, err)
	assert.EqualValues(t, 0, second.TotalAdded)
	assert.EqualValues(t, 2, second.TotalSkipped, "existing rows are refreshed, not duplicated")

	dbStats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, dbStats.Total)
}

func TestBatchProcessor_FlushErrorIsFatal(t *testing.T) {
	store := newTestStore(t)
	// Closing the store underneath the processor forces a flush failure
	require.NoError(t, store.Close())

	bp := NewBatchProcessor(store, 2, 10000, logger.NewNoOpLogger())

	records := []manifest.FileRecord{
		discoveredRecord("/data/a.txt"),
		discoveredRecord("/data/b.txt"),
		discoveredRecord("/data/c.txt"),
	}

	_, err := bp.ProcessStream(context.Background(), streamOf(records...))
	assert.Error(t, err)
}
