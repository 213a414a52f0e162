package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv overrides bootstrap configuration from BOOTSTRAP_-prefixed
// environment variables. Returns an error on unparseable values.
func (c *BootstrapConfig) ApplyEnv() error {
	env := envReader{prefix: "BOOTSTRAP_"}

	env.str("ROOT_PATH", &c.RootPath)
	env.str("DB_PATH", &c.DBPath)
	env.str("LOG_DIR", &c.LogDir)
	env.str("LOG_LEVEL", &c.LogLevel)
	env.num("WORKERS", &c.Workers)
	env.num("BATCH_SIZE", &c.BatchSize)
	env.num("FILE_TIMEOUT_MINUTES", &c.FileTimeoutMinutes)
	env.num("MAX_RETRIES", &c.MaxRetries)
	env.dur("RETRY_DELAY", &c.RetryDelay)
	env.num("PROGRESS_INTERVAL", &c.ProgressInterval)
	env.num("SQLITE_CACHE_MB", &c.SQLiteCacheMB)
	env.str("ACL_EXTRACTOR", &c.ACLExtractor)

	return env.err
}

// ApplyEnv overrides ingestion configuration from INGESTION_-prefixed
// environment variables. Returns an error on unparseable values.
func (c *IngestionConfig) ApplyEnv() error {
	env := envReader{prefix: "INGESTION_"}

	env.str("DB_PATH", &c.DBPath)
	env.str("CHECKPOINT_FILE", &c.CheckpointFile)
	env.str("LOG_DIR", &c.LogDir)
	env.str("LOG_LEVEL", &c.LogLevel)
	env.str("INGESTOR_HOST", &c.IngestorHost)
	env.num("INGESTOR_PORT", &c.IngestorPort)
	env.str("COLLECTION_NAME", &c.CollectionName)
	env.num("EMBEDDING_DIMENSION", &c.EmbeddingDimension)
	env.num("BATCH_SIZE", &c.BatchSize)
	env.num("CHECKPOINT_INTERVAL", &c.CheckpointInterval)
	env.dur("BATCH_DELAY", &c.BatchDelay)
	env.num("MAX_RETRIES", &c.MaxRetries)
	env.dur("RETRY_DELAY", &c.RetryDelay)
	env.dur("POLL_TIMEOUT", &c.PollTimeout)
	env.dur("REQUEST_TIMEOUT", &c.RequestTimeout)
	env.num("CHUNK_SIZE", &c.ChunkSize)
	env.num("CHUNK_OVERLAP", &c.ChunkOverlap)
	env.boolean("GENERATE_SUMMARY", &c.GenerateSummary)
	env.boolean("BLOCKING", &c.Blocking)
	env.boolean("SKIP_EXISTING", &c.SkipExisting)
	env.boolean("CREATE_COLLECTION", &c.CreateCollection)
	env.boolean("DELETE_COLLECTION", &c.DeleteCollection)
	env.boolean("RESUME", &c.Resume)
	env.boolean("CONTINUE_ON_ERROR", &c.ContinueOnError)
	env.str("PROXY_URL", &c.ProxyURL)

	return env.err
}

// envReader reads prefixed environment variables into config fields,
// capturing the first parse error.
type envReader struct {
	prefix string
	err    error
}

func (e *envReader) lookup(key string) (string, bool) {
	val, ok := os.LookupEnv(e.prefix + key)
	if !ok {
		return "", false
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return "", false
	}
	return val, true
}

func (e *envReader) str(key string, dst *string) {
	if val, ok := e.lookup(key); ok {
		*dst = val
	}
}

func (e *envReader) num(key string, dst *int) {
	val, ok := e.lookup(key)
	if !ok || e.err != nil {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		e.err = fmt.Errorf("invalid %s%s value %q: %w", e.prefix, key, val, err)
		return
	}
	*dst = n
}

func (e *envReader) boolean(key string, dst *bool) {
	val, ok := e.lookup(key)
	if !ok || e.err != nil {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		e.err = fmt.Errorf("invalid %s%s value %q: %w", e.prefix, key, val, err)
		return
	}
	*dst = b
}

// dur accepts Go duration strings ("90s", "5m") and plain numbers,
// which are read as seconds.
func (e *envReader) dur(key string, dst *time.Duration) {
	val, ok := e.lookup(key)
	if !ok || e.err != nil {
		return
	}
	if d, err := time.ParseDuration(val); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return
	}
	e.err = fmt.Errorf("invalid %s%s value %q: expected duration or seconds", e.prefix, key, val)
}
