package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/harrison/manifest/internal/filelock"
	"github.com/harrison/manifest/internal/logger"
)

// Checkpoint captures resumable ingestion progress. Offset is the manifest
// cursor to restart from; the counters carry totals across runs.
type Checkpoint struct {
	Offset         int    `json:"offset"`
	BatchNum       int    `json:"batch_num"`
	TotalProcessed int    `json:"total_processed"`
	TotalFailed    int    `json:"total_failed"`
	Timestamp      string `json:"timestamp"`
}

// CheckpointManager persists checkpoints as a single JSON file.
type CheckpointManager struct {
	path string
	log  logger.Logger
}

// NewCheckpointManager creates a manager for the checkpoint at path.
func NewCheckpointManager(path string, log logger.Logger) *CheckpointManager {
	return &CheckpointManager{path: path, log: log}
}

// Path returns the checkpoint file path.
func (cm *CheckpointManager) Path() string {
	return cm.path
}

// Load reads the saved checkpoint. A missing file returns nil without error;
// a malformed file is treated as no checkpoint with a logged warning, never
// a crash.
func (cm *CheckpointManager) Load() *Checkpoint {
	data, err := os.ReadFile(cm.path)
	if err != nil {
		if os.IsNotExist(err) {
			cm.log.LogEvent("debug", "checkpoint_not_found", logger.F("path", cm.path))
			return nil
		}
		cm.log.LogEvent("warn", "checkpoint_read_failed",
			logger.F("path", cm.path),
			logger.F("error", err.Error()),
		)
		return nil
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		cm.log.LogEvent("warn", "checkpoint_malformed",
			logger.F("path", cm.path),
			logger.F("error", err.Error()),
		)
		return nil
	}

	cm.log.LogEvent("info", "checkpoint_loaded",
		logger.F("path", cm.path),
		logger.F("offset", cp.Offset),
		logger.F("batch_num", cp.BatchNum),
		logger.F("total_processed", cp.TotalProcessed),
	)
	return &cp
}

// Save writes the checkpoint atomically, creating the parent directory on
// demand. The timestamp is stamped here.
func (cm *CheckpointManager) Save(offset, batchNum, totalProcessed, totalFailed int) error {
	cp := Checkpoint{
		Offset:         offset,
		BatchNum:       batchNum,
		TotalProcessed: totalProcessed,
		TotalFailed:    totalFailed,
		Timestamp:      time.Now().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	if err := filelock.AtomicWrite(cm.path, data); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}

	cm.log.LogEvent("debug", "checkpoint_saved",
		logger.F("offset", offset),
		logger.F("batch_num", batchNum),
		logger.F("total_processed", totalProcessed),
		logger.F("total_failed", totalFailed),
	)
	return nil
}

// Delete removes the checkpoint file. Deletion only happens on explicit
// request, never automatically after a successful run.
func (cm *CheckpointManager) Delete() error {
	if err := os.Remove(cm.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	cm.log.LogEvent("info", "checkpoint_deleted", logger.F("path", cm.path))
	return nil
}
