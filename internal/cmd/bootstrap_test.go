package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/manifest/internal/config"
	"github.com/harrison/manifest/internal/manifest"
)

func TestBootstrapCommand_ScansTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("beta"), 0644))

	dbPath := filepath.Join(t.TempDir(), "manifest.db")
	logDir := t.TempDir()

	out, err := executeCommand(t, "bootstrap", root,
		"--db-path", dbPath,
		"--acl-extractor", "stat",
		"--log-dir", logDir,
		"--workers", "2",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Bootstrap complete")

	store, err := manifest.NewStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Total)
	assert.EqualValues(t, 2, stats.Discovered)
}

func TestBootstrapCommand_RejectsInvalidFlags(t *testing.T) {
	root := t.TempDir()

	_, err := executeCommand(t, "bootstrap", root,
		"--db-path", filepath.Join(t.TempDir(), "m.db"),
		"--workers", "99",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestApplyBootstrapFlags_OnlyChangedFlagsOverride(t *testing.T) {
	cmd := NewBootstrapCommand()
	require.NoError(t, cmd.ParseFlags([]string{
		"--workers", "16",
		"--acl-extractor", "noop",
	}))

	cfg := config.DefaultBootstrapConfig()
	applyBootstrapFlags(cmd, cfg)

	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, "noop", cfg.ACLExtractor)
	assert.Equal(t, 500, cfg.BatchSize, "unset flags leave defaults alone")
	assert.Equal(t, 5, cfg.FileTimeoutMinutes)
}

func TestApplyIngestFlags_OnlyChangedFlagsOverride(t *testing.T) {
	cmd := NewIngestCommand()
	require.NoError(t, cmd.ParseFlags([]string{
		"--collection-name", "reports",
		"--batch-size", "50",
		"--create-collection=false",
		"--batch-delay", "2s",
	}))

	cfg := config.DefaultIngestionConfig()
	applyIngestFlags(cmd, cfg)

	assert.Equal(t, "reports", cfg.CollectionName)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.False(t, cfg.CreateCollection, "explicit false overrides the true default")
	assert.Equal(t, "2s", cfg.BatchDelay.String())
	assert.True(t, cfg.ContinueOnError, "unset bools keep their defaults")
	assert.Equal(t, "localhost", cfg.IngestorHost)
}
