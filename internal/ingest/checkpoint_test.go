package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/manifest/internal/logger"
)

func TestCheckpointManager_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cm := NewCheckpointManager(path, logger.NewNoOpLogger())

	require.NoError(t, cm.Save(5000, 10, 4980, 20))

	cp := cm.Load()
	require.NotNil(t, cp)
	assert.Equal(t, 5000, cp.Offset)
	assert.Equal(t, 10, cp.BatchNum)
	assert.Equal(t, 4980, cp.TotalProcessed)
	assert.Equal(t, 20, cp.TotalFailed)
	assert.NotEmpty(t, cp.Timestamp)
}

func TestCheckpointManager_LoadMissing(t *testing.T) {
	cm := NewCheckpointManager(filepath.Join(t.TempDir(), "absent.json"), logger.NewNoOpLogger())
	assert.Nil(t, cm.Load())
}

func TestCheckpointManager_LoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	cm := NewCheckpointManager(path, logger.NewNoOpLogger())
	assert.Nil(t, cm.Load(), "a corrupt checkpoint starts fresh instead of crashing")
}

func TestCheckpointManager_SaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cm := NewCheckpointManager(path, logger.NewNoOpLogger())

	require.NoError(t, cm.Save(100, 1, 100, 0))
	require.NoError(t, cm.Save(200, 2, 200, 3))

	cp := cm.Load()
	require.NotNil(t, cp)
	assert.Equal(t, 200, cp.Offset)
	assert.Equal(t, 2, cp.BatchNum)
}

func TestCheckpointManager_SaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "checkpoint.json")
	cm := NewCheckpointManager(path, logger.NewNoOpLogger())

	require.NoError(t, cm.Save(0, 0, 0, 0))
	require.NotNil(t, cm.Load())
}

func TestCheckpointManager_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cm := NewCheckpointManager(path, logger.NewNoOpLogger())

	require.NoError(t, cm.Save(1, 1, 1, 0))
	require.NoError(t, cm.Delete())
	assert.Nil(t, cm.Load())

	// Deleting again is a no-op.
	assert.NoError(t, cm.Delete())
}
