// Package config defines the configuration records for the bootstrap and
// ingestion engines.
//
// Precedence, lowest to highest: built-in defaults, YAML config file,
// BOOTSTRAP_/INGESTION_ environment variables, CLI flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BootstrapConfig holds every knob of the discovery engine.
type BootstrapConfig struct {
	// RootPath is the root of the share to scan. Required.
	RootPath string `yaml:"root_path"`

	// DBPath is the manifest database file path
	DBPath string `yaml:"db_path"`

	// LogDir is the directory where run logs are written
	LogDir string `yaml:"log_dir"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// Workers bounds the number of concurrent per-file operations
	Workers int `yaml:"workers"`

	// BatchSize is the number of records per bulk insert
	BatchSize int `yaml:"batch_size"`

	// FileTimeoutMinutes bounds each stat and ACL operation
	FileTimeoutMinutes int `yaml:"file_timeout_minutes"`

	// MaxRetries is the retry budget for transient directory read errors
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the initial backoff delay, doubled per attempt
	RetryDelay time.Duration `yaml:"retry_delay"`

	// ProgressInterval reports progress every N files
	ProgressInterval int `yaml:"progress_interval"`

	// SQLiteCacheMB is the page cache size for the manifest database
	SQLiteCacheMB int `yaml:"sqlite_cache_mb"`

	// ACLExtractor selects the ACL capture strategy (getfacl, stat, noop)
	ACLExtractor string `yaml:"acl_extractor"`
}

// DefaultBootstrapConfig returns a BootstrapConfig with sensible defaults.
func DefaultBootstrapConfig() *BootstrapConfig {
	return &BootstrapConfig{
		DBPath:             "./manifest.db",
		LogDir:             "./logs",
		LogLevel:           "info",
		Workers:            8,
		BatchSize:          500,
		FileTimeoutMinutes: 5,
		MaxRetries:         3,
		RetryDelay:         time.Second,
		ProgressInterval:   10000,
		SQLiteCacheMB:      64,
		ACLExtractor:       "getfacl",
	}
}

// FileTimeout returns the per-file operation timeout as a duration.
func (c *BootstrapConfig) FileTimeout() time.Duration {
	return time.Duration(c.FileTimeoutMinutes) * time.Minute
}

// Validate validates the configuration values.
// Returns an error if any values are invalid.
func (c *BootstrapConfig) Validate() error {
	if c.RootPath == "" {
		return fmt.Errorf("root_path is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if c.Workers < 1 || c.Workers > 32 {
		return fmt.Errorf("workers must be between 1 and 32, got %d", c.Workers)
	}
	if c.BatchSize < 100 || c.BatchSize > 5000 {
		return fmt.Errorf("batch_size must be between 100 and 5000, got %d", c.BatchSize)
	}
	if c.FileTimeoutMinutes < 1 || c.FileTimeoutMinutes > 30 {
		return fmt.Errorf("file_timeout_minutes must be between 1 and 30, got %d", c.FileTimeoutMinutes)
	}
	if c.MaxRetries < 1 || c.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 1 and 10, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 100*time.Millisecond || c.RetryDelay > time.Minute {
		return fmt.Errorf("retry_delay must be between 100ms and 1m, got %v", c.RetryDelay)
	}
	if c.ProgressInterval < 1000 {
		return fmt.Errorf("progress_interval must be >= 1000, got %d", c.ProgressInterval)
	}
	if c.SQLiteCacheMB < 16 || c.SQLiteCacheMB > 512 {
		return fmt.Errorf("sqlite_cache_mb must be between 16 and 512, got %d", c.SQLiteCacheMB)
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}
	switch c.ACLExtractor {
	case "getfacl", "stat", "noop":
	default:
		return fmt.Errorf("invalid acl_extractor %q, must be one of: getfacl, stat, noop", c.ACLExtractor)
	}
	return nil
}

// IngestionConfig holds every knob of the ingestion engine.
type IngestionConfig struct {
	// DBPath is the manifest database produced by the discovery engine
	DBPath string `yaml:"db_path"`

	// CheckpointFile is the resumable-ingestion checkpoint path
	CheckpointFile string `yaml:"checkpoint_file"`

	// LogDir is the directory where run logs are written
	LogDir string `yaml:"log_dir"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// IngestorHost and IngestorPort locate the document service
	IngestorHost string `yaml:"ingestor_host"`
	IngestorPort int    `yaml:"ingestor_port"`

	// CollectionName is the target collection on the document service
	CollectionName string `yaml:"collection_name"`

	// EmbeddingDimension is used when creating the collection
	EmbeddingDimension int `yaml:"embedding_dimension"`

	// BatchSize is the number of files per upload batch
	BatchSize int `yaml:"batch_size"`

	// CheckpointInterval saves the checkpoint every N batches
	CheckpointInterval int `yaml:"checkpoint_interval"`

	// BatchDelay is an optional pause between batches
	BatchDelay time.Duration `yaml:"batch_delay"`

	// MaxRetries is the upload retry budget per batch
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the initial upload backoff delay, doubled per attempt
	RetryDelay time.Duration `yaml:"retry_delay"`

	// PollTimeout caps the total wait for a server-side ingestion task
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// RequestTimeout bounds each HTTP request
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ChunkSize and ChunkOverlap are document split options
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// GenerateSummary asks the server to summarize each document
	GenerateSummary bool `yaml:"generate_summary"`

	// Blocking makes the server process uploads synchronously
	Blocking bool `yaml:"blocking"`

	// SkipExisting skips files already present in the collection
	SkipExisting bool `yaml:"skip_existing"`

	// CreateCollection creates the collection if it doesn't exist
	CreateCollection bool `yaml:"create_collection"`

	// DeleteCollection deletes the collection after the run
	DeleteCollection bool `yaml:"delete_collection"`

	// Resume restarts from the saved checkpoint
	Resume bool `yaml:"resume"`

	// ContinueOnError keeps processing after a failed batch
	ContinueOnError bool `yaml:"continue_on_error"`

	// ProxyURL routes HTTP requests through a proxy when set
	ProxyURL string `yaml:"proxy_url"`
}

// DefaultIngestionConfig returns an IngestionConfig with sensible defaults.
func DefaultIngestionConfig() *IngestionConfig {
	return &IngestionConfig{
		DBPath:             "./manifest.db",
		CheckpointFile:     "./ingestion_checkpoint.json",
		LogDir:             "./logs",
		LogLevel:           "info",
		IngestorHost:       "localhost",
		IngestorPort:       8082,
		CollectionName:     "documents",
		EmbeddingDimension: 2048,
		BatchSize:          100,
		CheckpointInterval: 10,
		BatchDelay:         0,
		MaxRetries:         3,
		RetryDelay:         time.Second,
		PollTimeout:        time.Hour,
		RequestTimeout:     5 * time.Minute,
		ChunkSize:          512,
		ChunkOverlap:       150,
		GenerateSummary:    true,
		Blocking:           false,
		SkipExisting:       true,
		CreateCollection:   true,
		DeleteCollection:   false,
		Resume:             false,
		ContinueOnError:    true,
	}
}

// BaseURL returns the document service base URL.
func (c *IngestionConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.IngestorHost, c.IngestorPort)
}

// Validate validates the configuration values.
// Returns an error if any values are invalid.
func (c *IngestionConfig) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if c.CheckpointFile == "" {
		return fmt.Errorf("checkpoint_file cannot be empty")
	}
	if c.CollectionName == "" {
		return fmt.Errorf("collection_name cannot be empty")
	}
	if c.IngestorHost == "" {
		return fmt.Errorf("ingestor_host cannot be empty")
	}
	if c.IngestorPort < 1 || c.IngestorPort > 65535 {
		return fmt.Errorf("ingestor_port must be between 1 and 65535, got %d", c.IngestorPort)
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding_dimension must be > 0, got %d", c.EmbeddingDimension)
	}
	if c.BatchSize < 1 || c.BatchSize > 1000 {
		return fmt.Errorf("batch_size must be between 1 and 1000, got %d", c.BatchSize)
	}
	if c.CheckpointInterval < 1 {
		return fmt.Errorf("checkpoint_interval must be >= 1, got %d", c.CheckpointInterval)
	}
	if c.BatchDelay < 0 {
		return fmt.Errorf("batch_delay must be >= 0, got %v", c.BatchDelay)
	}
	if c.MaxRetries < 1 || c.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 1 and 10, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 100*time.Millisecond {
		return fmt.Errorf("retry_delay must be >= 100ms, got %v", c.RetryDelay)
	}
	if c.PollTimeout < time.Minute || c.PollTimeout > 24*time.Hour {
		return fmt.Errorf("poll_timeout must be between 1m and 24h, got %v", c.PollTimeout)
	}
	if c.RequestTimeout < 30*time.Second || c.RequestTimeout > 30*time.Minute {
		return fmt.Errorf("request_timeout must be between 30s and 30m, got %v", c.RequestTimeout)
	}
	if c.ChunkSize < 100 || c.ChunkSize > 2048 {
		return fmt.Errorf("chunk_size must be between 100 and 2048, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap > 512 {
		return fmt.Errorf("chunk_overlap must be between 0 and 512, got %d", c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}
	return nil
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadBootstrapConfig loads bootstrap configuration from the specified file.
// If the file doesn't exist, returns default configuration without error.
// If the file exists but is malformed, returns an error.
func LoadBootstrapConfig(path string) (*BootstrapConfig, error) {
	cfg := DefaultBootstrapConfig()

	raw, found, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if !found {
		return cfg, nil
	}

	// A temporary struct handles duration parsing from YAML strings
	type yamlConfig struct {
		RootPath           string `yaml:"root_path"`
		DBPath             string `yaml:"db_path"`
		LogDir             string `yaml:"log_dir"`
		LogLevel           string `yaml:"log_level"`
		Workers            int    `yaml:"workers"`
		BatchSize          int    `yaml:"batch_size"`
		FileTimeoutMinutes int    `yaml:"file_timeout_minutes"`
		MaxRetries         int    `yaml:"max_retries"`
		RetryDelay         string `yaml:"retry_delay"`
		ProgressInterval   int    `yaml:"progress_interval"`
		SQLiteCacheMB      int    `yaml:"sqlite_cache_mb"`
		ACLExtractor       string `yaml:"acl_extractor"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply non-zero values from file (merging with defaults)
	if yamlCfg.RootPath != "" {
		cfg.RootPath = yamlCfg.RootPath
	}
	if yamlCfg.DBPath != "" {
		cfg.DBPath = yamlCfg.DBPath
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.Workers != 0 {
		cfg.Workers = yamlCfg.Workers
	}
	if yamlCfg.BatchSize != 0 {
		cfg.BatchSize = yamlCfg.BatchSize
	}
	if yamlCfg.FileTimeoutMinutes != 0 {
		cfg.FileTimeoutMinutes = yamlCfg.FileTimeoutMinutes
	}
	if yamlCfg.MaxRetries != 0 {
		cfg.MaxRetries = yamlCfg.MaxRetries
	}
	if yamlCfg.RetryDelay != "" {
		d, err := time.ParseDuration(yamlCfg.RetryDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid retry_delay format %q: %w", yamlCfg.RetryDelay, err)
		}
		cfg.RetryDelay = d
	}
	if yamlCfg.ProgressInterval != 0 {
		cfg.ProgressInterval = yamlCfg.ProgressInterval
	}
	if yamlCfg.SQLiteCacheMB != 0 {
		cfg.SQLiteCacheMB = yamlCfg.SQLiteCacheMB
	}
	if yamlCfg.ACLExtractor != "" {
		cfg.ACLExtractor = yamlCfg.ACLExtractor
	}

	return cfg, nil
}

// LoadIngestionConfig loads ingestion configuration from the specified file.
// If the file doesn't exist, returns default configuration without error.
func LoadIngestionConfig(path string) (*IngestionConfig, error) {
	cfg := DefaultIngestionConfig()

	raw, found, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	if !found {
		return cfg, nil
	}

	type yamlConfig struct {
		DBPath             string `yaml:"db_path"`
		CheckpointFile     string `yaml:"checkpoint_file"`
		LogDir             string `yaml:"log_dir"`
		LogLevel           string `yaml:"log_level"`
		IngestorHost       string `yaml:"ingestor_host"`
		IngestorPort       int    `yaml:"ingestor_port"`
		CollectionName     string `yaml:"collection_name"`
		EmbeddingDimension int    `yaml:"embedding_dimension"`
		BatchSize          int    `yaml:"batch_size"`
		CheckpointInterval int    `yaml:"checkpoint_interval"`
		BatchDelay         string `yaml:"batch_delay"`
		MaxRetries         int    `yaml:"max_retries"`
		RetryDelay         string `yaml:"retry_delay"`
		PollTimeout        string `yaml:"poll_timeout"`
		RequestTimeout     string `yaml:"request_timeout"`
		ChunkSize          int    `yaml:"chunk_size"`
		ChunkOverlap       int    `yaml:"chunk_overlap"`
		GenerateSummary    *bool  `yaml:"generate_summary"`
		Blocking           *bool  `yaml:"blocking"`
		SkipExisting       *bool  `yaml:"skip_existing"`
		CreateCollection   *bool  `yaml:"create_collection"`
		DeleteCollection   *bool  `yaml:"delete_collection"`
		Resume             *bool  `yaml:"resume"`
		ContinueOnError    *bool  `yaml:"continue_on_error"`
		ProxyURL           string `yaml:"proxy_url"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.DBPath != "" {
		cfg.DBPath = yamlCfg.DBPath
	}
	if yamlCfg.CheckpointFile != "" {
		cfg.CheckpointFile = yamlCfg.CheckpointFile
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.IngestorHost != "" {
		cfg.IngestorHost = yamlCfg.IngestorHost
	}
	if yamlCfg.IngestorPort != 0 {
		cfg.IngestorPort = yamlCfg.IngestorPort
	}
	if yamlCfg.CollectionName != "" {
		cfg.CollectionName = yamlCfg.CollectionName
	}
	if yamlCfg.EmbeddingDimension != 0 {
		cfg.EmbeddingDimension = yamlCfg.EmbeddingDimension
	}
	if yamlCfg.BatchSize != 0 {
		cfg.BatchSize = yamlCfg.BatchSize
	}
	if yamlCfg.CheckpointInterval != 0 {
		cfg.CheckpointInterval = yamlCfg.CheckpointInterval
	}
	if yamlCfg.MaxRetries != 0 {
		cfg.MaxRetries = yamlCfg.MaxRetries
	}
	if yamlCfg.ChunkSize != 0 {
		cfg.ChunkSize = yamlCfg.ChunkSize
	}
	if yamlCfg.ChunkOverlap != 0 {
		cfg.ChunkOverlap = yamlCfg.ChunkOverlap
	}
	if yamlCfg.ProxyURL != "" {
		cfg.ProxyURL = yamlCfg.ProxyURL
	}

	durations := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{yamlCfg.BatchDelay, "batch_delay", &cfg.BatchDelay},
		{yamlCfg.RetryDelay, "retry_delay", &cfg.RetryDelay},
		{yamlCfg.PollTimeout, "poll_timeout", &cfg.PollTimeout},
		{yamlCfg.RequestTimeout, "request_timeout", &cfg.RequestTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s format %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}

	// Bool fields use pointers so "explicitly false" is distinguishable
	// from "absent"
	bools := []struct {
		src *bool
		dst *bool
	}{
		{yamlCfg.GenerateSummary, &cfg.GenerateSummary},
		{yamlCfg.Blocking, &cfg.Blocking},
		{yamlCfg.SkipExisting, &cfg.SkipExisting},
		{yamlCfg.CreateCollection, &cfg.CreateCollection},
		{yamlCfg.DeleteCollection, &cfg.DeleteCollection},
		{yamlCfg.Resume, &cfg.Resume},
		{yamlCfg.ContinueOnError, &cfg.ContinueOnError},
	}
	for _, b := range bools {
		if b.src != nil {
			*b.dst = *b.src
		}
	}

	return cfg, nil
}

// readConfigFile reads a config file, reporting whether it exists.
// A missing file is not an error.
func readConfigFile(path string) ([]byte, bool, error) {
	if path == "" {
		return nil, false, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read config file: %w", err)
	}
	return data, true, nil
}
