package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/manifest/internal/ingest"
	"github.com/harrison/manifest/internal/logger"
	"github.com/harrison/manifest/internal/manifest"
)

func TestStatsCommand_PrintsCounters(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "manifest.db")

	store, err := manifest.NewStore(dbPath)
	require.NoError(t, err)
	acl := "user::rw-"
	records := []manifest.FileRecord{
		{FilePath: "/data/a.txt", FileName: "a.txt", ParentDir: "/data",
			RawACL: &acl, ACLCaptured: true, Status: manifest.StatusDiscovered},
		manifest.NewPermissionErrorRecord("/data/b.txt", "Permission denied"),
	}
	_, _, err = store.BulkUpsert(context.Background(), records)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := executeCommand(t, "stats", "--db-path", dbPath)
	require.NoError(t, err)

	assert.Contains(t, out, "Total files: 2")
	assert.Contains(t, out, "Discovered: 1")
	assert.Contains(t, out, "Permission denied: 1")
	assert.Contains(t, out, "Pending: 1")
}

func TestCheckpointShowAndClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cm := ingest.NewCheckpointManager(path, logger.NewNoOpLogger())
	require.NoError(t, cm.Save(1500, 3, 1480, 20))

	out, err := executeCommand(t, "checkpoint", "show", "--checkpoint-file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Offset: 1500")
	assert.Contains(t, out, "Batch: 3")

	out, err = executeCommand(t, "checkpoint", "clear", "--checkpoint-file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Checkpoint cleared")
	assert.Nil(t, cm.Load())

	out, err = executeCommand(t, "checkpoint", "show", "--checkpoint-file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No checkpoint")
}
