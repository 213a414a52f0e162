package filelock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLock_TryLockExclusion(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "manifest.db.lock")

	first := NewFileLock(lockPath)
	acquired, err := first.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)
	defer first.Unlock()

	second := NewFileLock(lockPath)
	acquired, err = second.TryLock()
	require.NoError(t, err)
	assert.False(t, acquired, "lock is exclusive while held")

	require.NoError(t, first.Unlock())

	acquired, err = second.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired, "lock is acquirable after release")
	require.NoError(t, second.Unlock())
}

func TestAtomicWrite_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "checkpoint.json")

	require.NoError(t, AtomicWrite(path, []byte(`{"offset": 300}`)))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"offset": 300}`, string(content))
}

func TestAtomicWrite_ReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, AtomicWrite(path, []byte("old")))
	require.NoError(t, AtomicWrite(path, []byte("new")))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
}

func TestAtomicWrite_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	require.NoError(t, AtomicWrite(path, []byte("x")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "data.json", entries[0].Name())
}
