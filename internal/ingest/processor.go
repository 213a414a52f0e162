package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/manifest/internal/config"
	"github.com/harrison/manifest/internal/logger"
	"github.com/harrison/manifest/internal/manifest"
)

// RunStats accumulates counters for one ingestion run.
type RunStats struct {
	TotalProcessed int
	TotalCompleted int
	TotalFailed    int
	TotalSkipped   int
	BatchCount     int
	StartTime      time.Time
}

// Duration returns the elapsed run time.
func (s *RunStats) Duration() time.Duration {
	return time.Since(s.StartTime)
}

// SuccessRate returns the completed percentage over all terminal outcomes.
func (s *RunStats) SuccessRate() float64 {
	total := s.TotalCompleted + s.TotalFailed
	if total == 0 {
		return 0
	}
	return float64(s.TotalCompleted) / float64(total) * 100
}

// Summary returns a human-readable multi-line report for the run.
func (s *RunStats) Summary() string {
	lines := []string{
		"Ingestion complete",
		fmt.Sprintf("  Total processed: %d", s.TotalProcessed),
		fmt.Sprintf("  Completed: %d", s.TotalCompleted),
		fmt.Sprintf("  Skipped (already ingested): %d", s.TotalSkipped),
		fmt.Sprintf("  Failed: %d", s.TotalFailed),
		fmt.Sprintf("  Success rate: %.1f%%", s.SuccessRate()),
		fmt.Sprintf("  Batches: %d", s.BatchCount),
		fmt.Sprintf("  Duration: %.1fs", s.Duration().Seconds()),
	}
	return strings.Join(lines, "\n")
}

// Processor drives the upload state machine: fetch a batch of pending rows,
// upload the survivors, poll the server task, record terminal statuses, and
// checkpoint progress.
type Processor struct {
	repo         *Repository
	client       *Client
	checkpoints  *CheckpointManager
	cfg          *config.IngestionConfig
	existingDocs map[string]struct{}
	log          logger.Logger
}

// NewProcessor creates a Processor. existingDocs is the server-side dedup
// set from ListDocuments; nil means no pre-filter.
func NewProcessor(repo *Repository, client *Client, checkpoints *CheckpointManager, cfg *config.IngestionConfig, existingDocs map[string]struct{}, log logger.Logger) *Processor {
	if existingDocs == nil {
		existingDocs = make(map[string]struct{})
	}
	return &Processor{
		repo:         repo,
		client:       client,
		checkpoints:  checkpoints,
		cfg:          cfg,
		existingDocs: existingDocs,
		log:          log,
	}
}

// Run executes the outer batch loop starting at (offset, batchNum), which is
// (0, 0) for a fresh run or the saved checkpoint for a resumed one. A
// checkpoint is written every checkpoint_interval batches, on cancellation,
// and on clean completion; files are uploaded at-least-once across crashes.
func (p *Processor) Run(ctx context.Context, offset, batchNum int) (*RunStats, error) {
	stats := &RunStats{StartTime: time.Now()}
	currentOffset := offset
	currentBatch := batchNum

	p.log.LogEvent("info", "ingestion_started",
		logger.F("offset", offset),
		logger.F("batch_num", batchNum),
		logger.F("batch_size", p.cfg.BatchSize),
		logger.F("checkpoint_interval", p.cfg.CheckpointInterval),
	)
	if len(p.existingDocs) > 0 {
		p.log.LogEvent("info", "dedup_filter_active", logger.F("existing_documents", len(p.existingDocs)))
	}

	saveCheckpoint := func() {
		if err := p.checkpoints.Save(currentOffset, currentBatch, stats.TotalProcessed, stats.TotalFailed); err != nil {
			p.log.LogError(fmt.Sprintf("Failed to save checkpoint: %v", err))
		}
	}

	for {
		if ctx.Err() != nil {
			// Interrupt: persist progress so --resume picks up here.
			p.log.LogWarn("Interrupted. Saving checkpoint...")
			saveCheckpoint()
			return stats, ctx.Err()
		}

		files, err := p.repo.FetchPending(ctx, p.cfg.BatchSize, currentOffset)
		if err != nil {
			saveCheckpoint()
			return stats, fmt.Errorf("fetch pending files: %w", err)
		}

		if len(files) == 0 {
			p.log.LogInfo("No more pending files. Ingestion complete")
			break
		}

		currentBatch++
		stats.BatchCount++

		completed, failed := p.processBatch(ctx, files, currentBatch, stats)
		stats.TotalCompleted += completed
		stats.TotalFailed += failed
		stats.TotalProcessed += len(files)

		currentOffset += len(files)

		if currentBatch%p.cfg.CheckpointInterval == 0 {
			saveCheckpoint()
			p.log.LogEvent("info", "checkpoint_progress",
				logger.F("processed", stats.TotalProcessed),
				logger.F("failed", stats.TotalFailed),
				logger.F("skipped", stats.TotalSkipped),
				logger.F("success_rate", fmt.Sprintf("%.1f%%", stats.SuccessRate())),
			)
		}

		if p.cfg.BatchDelay > 0 {
			select {
			case <-time.After(p.cfg.BatchDelay):
			case <-ctx.Done():
			}
		}

		if failed > 0 && !p.cfg.ContinueOnError {
			p.log.LogError("Stopping due to errors (continue_on_error=false)")
			break
		}
	}

	// Final checkpoint so a post-success --resume is a no-op.
	saveCheckpoint()

	return stats, nil
}

// processBatch handles one batch: dedup against the server, mark survivors
// ingesting, drop files missing on disk, upload with retry, poll the task,
// and record terminal statuses. Returns (completed, failed) counts.
func (p *Processor) processBatch(ctx context.Context, files []manifest.FileRecord, batchNum int, stats *RunStats) (int, int) {
	p.log.LogEvent("info", "batch_started",
		logger.F("batch_num", batchNum),
		logger.F("files", len(files)),
	)

	completed := 0
	failed := 0

	// Server-side dedup by document name: already-present files complete
	// locally without an upload.
	var toUpload []manifest.FileRecord
	for _, f := range files {
		if _, exists := p.existingDocs[f.FileName]; exists {
			p.log.LogEvent("info", "already_ingested", logger.F("file", f.FileName))
			p.markStatus(ctx, f.FilePath, manifest.IngestionCompleted, "")
			stats.TotalSkipped++
			completed++
			continue
		}
		toUpload = append(toUpload, f)
	}

	if len(toUpload) == 0 {
		p.log.LogEvent("info", "batch_all_deduped", logger.F("batch_num", batchNum))
		return completed, failed
	}

	for _, f := range toUpload {
		p.markStatus(ctx, f.FilePath, manifest.IngestionIngesting, "")
	}

	// Rows can outlive their files between scan and ingest.
	var survivors []manifest.FileRecord
	for _, f := range toUpload {
		if p.repo.FileExists(f.FilePath) {
			survivors = append(survivors, f)
			continue
		}
		p.log.LogEvent("warn", "file_missing", logger.F("path", f.FilePath))
		p.markStatus(ctx, f.FilePath, manifest.IngestionFailed, "File not found on disk")
		failed++
	}

	if len(survivors) == 0 {
		p.log.LogEvent("warn", "batch_empty_after_verification", logger.F("batch_num", batchNum))
		return completed, failed
	}

	payload := p.buildPayload(survivors)
	paths := make([]string, len(survivors))
	for i, f := range survivors {
		paths[i] = f.FilePath
	}

	taskID, err := p.uploadWithRetry(ctx, paths, payload)
	if err == nil && taskID != "" {
		var result *TaskResult
		result, err = p.client.PollTask(ctx, taskID)
		if err == nil {
			fields := []logger.Field{
				logger.F("batch_num", batchNum),
				logger.F("task_id", taskID),
			}
			// A FINISHED task can still report per-document failures;
			// operators only see them here.
			if len(result.FailedDocuments) > 0 {
				fields = append(fields, logger.F("failed_documents", fmt.Sprintf("%v", result.FailedDocuments)))
			}
			p.log.LogEvent("info", "task_finished", fields...)
		}
	}

	if err != nil {
		p.log.LogEvent("error", "batch_failed",
			logger.F("batch_num", batchNum),
			logger.F("error", err.Error()),
		)
		for _, f := range survivors {
			p.markStatus(ctx, f.FilePath, manifest.IngestionFailed, err.Error())
			failed++
		}
		return completed, failed
	}

	for _, f := range survivors {
		p.markStatus(ctx, f.FilePath, manifest.IngestionCompleted, "")
		completed++
	}

	p.log.LogEvent("info", "batch_completed",
		logger.F("batch_num", batchNum),
		logger.F("uploaded", len(survivors)),
	)
	return completed, failed
}

// uploadWithRetry attempts the upload up to max_retries times with
// exponential backoff.
func (p *Processor) uploadWithRetry(ctx context.Context, paths []string, payload UploadPayload) (string, error) {
	var lastErr error

	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		taskID, err := p.client.UploadDocuments(ctx, paths, payload)
		if err == nil {
			if attempt > 0 {
				p.log.LogEvent("debug", "upload_succeeded_after_retry", logger.F("attempts", attempt+1))
			}
			return taskID, nil
		}

		lastErr = err
		p.log.LogEvent("warn", "upload_attempt_failed",
			logger.F("attempt", attempt+1),
			logger.F("max_retries", p.cfg.MaxRetries),
			logger.F("error", err.Error()),
		)

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if attempt < p.cfg.MaxRetries-1 {
			delay := p.cfg.RetryDelay * time.Duration(1<<attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	return "", fmt.Errorf("upload failed after %d attempts: %w", p.cfg.MaxRetries, lastErr)
}

// buildPayload assembles the upload payload. Per-file custom metadata comes
// from the stored ACL blob: a JSON object is merged in as-is, anything else
// is wrapped as {"acl": raw}, and a missing blob yields empty metadata.
func (p *Processor) buildPayload(files []manifest.FileRecord) UploadPayload {
	customMetadata := make([]map[string]interface{}, len(files))

	for i, f := range files {
		metadata := map[string]interface{}{}
		if f.RawACL != nil && *f.RawACL != "" {
			var decoded interface{}
			if err := json.Unmarshal([]byte(*f.RawACL), &decoded); err == nil {
				if obj, ok := decoded.(map[string]interface{}); ok {
					for k, v := range obj {
						metadata[k] = v
					}
				} else {
					metadata["acl"] = *f.RawACL
				}
			} else {
				metadata["acl"] = *f.RawACL
			}
		}
		customMetadata[i] = metadata
	}

	return UploadPayload{
		CollectionName: p.cfg.CollectionName,
		Blocking:       p.cfg.Blocking,
		SplitOptions: SplitOptions{
			ChunkSize:    p.cfg.ChunkSize,
			ChunkOverlap: p.cfg.ChunkOverlap,
		},
		CustomMetadata:  customMetadata,
		GenerateSummary: p.cfg.GenerateSummary,
	}
}

// markStatus records a status transition, logging rather than failing the
// batch when the write goes wrong. The write runs on a detached context:
// an interrupted batch must still land its terminal statuses, or rows stay
// "ingesting" after a clean shutdown.
func (p *Processor) markStatus(ctx context.Context, path string, status manifest.IngestionStatus, errMsg string) {
	ctx = context.WithoutCancel(ctx)
	if err := p.repo.UpdateIngestion(ctx, path, status, errMsg); err != nil {
		p.log.LogError(fmt.Sprintf("Failed to update %s to %s: %v", path, status, err))
	}
}
