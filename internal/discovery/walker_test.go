package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/manifest/internal/acl"
	"github.com/harrison/manifest/internal/config"
	"github.com/harrison/manifest/internal/logger"
	"github.com/harrison/manifest/internal/manifest"
)

func testWalker(t *testing.T, extractor acl.Extractor) *Walker {
	t.Helper()
	cfg := config.DefaultBootstrapConfig()
	cfg.Workers = 4
	cfg.RetryDelay = 10 * time.Millisecond
	return NewWalker(cfg, extractor, logger.NewNoOpLogger())
}

func collect(t *testing.T, records <-chan manifest.FileRecord) map[string]manifest.FileRecord {
	t.Helper()
	out := make(map[string]manifest.FileRecord)
	for record := range records {
		out[record.FilePath] = record
	}
	return out
}

func TestWalker_EmitsFileRecords(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "deep"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("aa"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("bbb"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "deep", "c.txt"), []byte("c"), 0644))

	w := testWalker(t, &acl.StatExtractor{Timeout: 5 * time.Second})
	records := collect(t, w.Walk(context.Background(), root))

	require.Len(t, records, 3)
	for path, record := range records {
		assert.Equal(t, manifest.StatusDiscovered, record.Status, path)
		assert.True(t, record.ACLCaptured, path)
		assert.NotNil(t, record.RawACL, path)
		assert.NotNil(t, record.Size, path)
		assert.NotNil(t, record.Mtime, path)
		assert.False(t, record.IsDirectory, "directory rows are never emitted")
		assert.Equal(t, filepath.Dir(path), record.ParentDir)
		assert.Equal(t, filepath.Base(path), record.FileName)
	}

	b := records[filepath.Join(root, "sub", "b.txt")]
	assert.EqualValues(t, 3, *b.Size)
}

func TestWalker_SkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "real.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))
	link := filepath.Join(root, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	// A directory symlink must not be traversed either
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dir", "inner.txt"), []byte("x"), 0644))
	dirLink := filepath.Join(root, "dirlink")
	require.NoError(t, os.Symlink(filepath.Join(root, "dir"), dirLink))

	w := testWalker(t, &acl.StatExtractor{Timeout: 5 * time.Second})
	records := collect(t, w.Walk(context.Background(), root))

	require.Len(t, records, 4)

	for _, linkPath := range []string{link, dirLink} {
		record, found := records[linkPath]
		require.True(t, found, linkPath)
		assert.Equal(t, manifest.StatusSkipped, record.Status)
		assert.Equal(t, "Symlink skipped to prevent cycles", record.Error)
	}
}

func TestWalker_MissingRoot(t *testing.T) {
	w := testWalker(t, acl.NoopExtractor{})
	records := collect(t, w.Walk(context.Background(), filepath.Join(t.TempDir(), "absent")))

	assert.Empty(t, records)
}

func TestWalker_UnreadableRoot(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission checks are bypassed for root")
	}

	root := filepath.Join(t.TempDir(), "locked")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0644))
	require.NoError(t, os.Chmod(root, 0000))
	t.Cleanup(func() { os.Chmod(root, 0755) })

	w := testWalker(t, acl.NoopExtractor{})
	records := collect(t, w.Walk(context.Background(), root))

	assert.Empty(t, records)
}

func TestWalker_UnreadableSubtreeIsPruned(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission checks are bypassed for root")
	}

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "visible.txt"), []byte("x"), 0644))
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.MkdirAll(locked, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(locked, "hidden.txt"), []byte("x"), 0644))
	require.NoError(t, os.Chmod(locked, 0000))
	t.Cleanup(func() { os.Chmod(locked, 0755) })

	w := testWalker(t, &acl.StatExtractor{Timeout: 5 * time.Second})
	records := collect(t, w.Walk(context.Background(), root))

	// The locked directory produces no rows at all; its failure is not
	// attributed to any file.
	require.Len(t, records, 1)
	_, found := records[filepath.Join(root, "visible.txt")]
	assert.True(t, found)
}

func TestWalker_NoopExtractorMarksACLFailed(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0644))

	w := testWalker(t, acl.NoopExtractor{})
	records := collect(t, w.Walk(context.Background(), root))

	require.Len(t, records, 1)
	for _, record := range records {
		assert.Equal(t, manifest.StatusACLFailed, record.Status)
		assert.False(t, record.ACLCaptured)
		assert.Nil(t, record.RawACL)
	}
}

func TestWalker_CancelledContextStopsWalk(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 20; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "f"+string(rune('a'+i))+".txt"), []byte("x"), 0644))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := testWalker(t, acl.NoopExtractor{})
	records := collect(t, w.Walk(ctx, root))

	// The channel still closes; nothing hangs
	assert.Empty(t, records)
}
