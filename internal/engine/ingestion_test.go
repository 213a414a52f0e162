package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/manifest/internal/config"
	"github.com/harrison/manifest/internal/logger"
	"github.com/harrison/manifest/internal/manifest"
)

// seedManifest creates a manifest DB containing discovered rows backed by
// real files and returns the DB path.
func seedManifest(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "manifest.db")

	store, err := manifest.NewStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	records := make([]manifest.FileRecord, len(names))
	for i, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("body"), 0644))
		acl := "user::rw-"
		records[i] = manifest.FileRecord{
			FilePath:    path,
			FileName:    name,
			ParentDir:   dir,
			RawACL:      &acl,
			ACLCaptured: true,
			Status:      manifest.StatusDiscovered,
		}
	}
	inserted, _, err := store.BulkUpsert(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, len(names), inserted)
	return dbPath
}

func TestIngestion_RunUploadsPendingRows(t *testing.T) {
	var collectionCreates, uploads, listings int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/collection" && r.Method == http.MethodPost:
			atomic.AddInt32(&collectionCreates, 1)
			w.Write([]byte(`{"status": "ok"}`))
		case r.URL.Path == "/v1/documents" && r.Method == http.MethodGet:
			atomic.AddInt32(&listings, 1)
			json.NewEncoder(w).Encode(map[string]interface{}{"documents": []interface{}{}})
		case r.URL.Path == "/v1/documents" && r.Method == http.MethodPost:
			atomic.AddInt32(&uploads, 1)
			w.Write([]byte(`{"task_id": "t-1"}`))
		case r.URL.Path == "/v1/status":
			w.Write([]byte(`{"state": "FINISHED"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	dbPath := seedManifest(t, "a.txt", "b.txt")

	cfg := config.DefaultIngestionConfig()
	cfg.DBPath = dbPath
	cfg.CheckpointFile = filepath.Join(t.TempDir(), "checkpoint.json")
	cfg.RetryDelay = time.Millisecond

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)
	cfg.IngestorHost = parsed.Hostname()
	cfg.IngestorPort, err = strconv.Atoi(parsed.Port())
	require.NoError(t, err)

	eng := NewIngestion(logger.NewNoOpLogger())
	jobID, err := eng.Start(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	require.NoError(t, waitForRun(t, eng.Wait))

	assert.EqualValues(t, 1, atomic.LoadInt32(&collectionCreates), "create_collection defaults on")
	assert.EqualValues(t, 1, atomic.LoadInt32(&listings), "skip_existing defaults on")
	assert.EqualValues(t, 1, atomic.LoadInt32(&uploads))

	stats := eng.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.TotalCompleted)

	ingStats, err := eng.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, ingStats.Completed)

	_, statErr := os.Stat(cfg.CheckpointFile)
	assert.NoError(t, statErr, "a final checkpoint survives a clean run")
}
