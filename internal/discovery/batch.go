package discovery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harrison/manifest/internal/logger"
	"github.com/harrison/manifest/internal/manifest"
)

// BatchProcessor drains the walker's record stream and writes it to the
// manifest store in batches. Flushes run on a background goroutine so the
// walker keeps producing while a batch is on disk; at most one flush is in
// flight at a time, which keeps the store single-writer.
type BatchProcessor struct {
	store            *manifest.Store
	log              logger.Logger
	batchSize        int
	progressInterval int
}

// NewBatchProcessor creates a BatchProcessor over the given store.
func NewBatchProcessor(store *manifest.Store, batchSize, progressInterval int, log logger.Logger) *BatchProcessor {
	return &BatchProcessor{
		store:            store,
		log:              log,
		batchSize:        batchSize,
		progressInterval: progressInterval,
	}
}

// ProcessStream consumes records until the stream closes, flushing every
// batchSize records and once more at the end. A flush failure is fatal to
// the run; per-record statuses are only counted, never rejected.
func (bp *BatchProcessor) ProcessStream(ctx context.Context, records <-chan manifest.FileRecord) (*manifest.BootstrapStats, error) {
	stats := &manifest.BootstrapStats{StartTime: time.Now()}
	defer func() { stats.EndTime = time.Now() }()

	bp.log.LogEvent("info", "batch_processing_started",
		logger.F("batch_size", bp.batchSize),
		logger.F("progress_interval", bp.progressInterval),
	)

	flushCh := make(chan []manifest.FileRecord)
	errCh := make(chan error, 1)

	var flusher sync.WaitGroup
	flusher.Add(1)
	go func() {
		defer flusher.Done()
		for batch := range flushCh {
			inserted, skipped, err := bp.store.BulkUpsert(ctx, batch)
			if err != nil {
				bp.log.LogEvent("error", "batch_flush_error",
					logger.F("batch_size", len(batch)),
					logger.F("error", err.Error()),
					logger.F("likely_cause", "Database write failure - disk full or locked"),
					logger.F("developer_action", "Check disk space, DB permissions, and file locks"),
				)
				select {
				case errCh <- err:
				default:
				}
				// Keep draining so the producer never blocks on a
				// dead flusher.
				continue
			}

			atomic.AddInt64(&stats.TotalAdded, int64(inserted))
			atomic.AddInt64(&stats.TotalSkipped, int64(skipped))

			bp.log.LogEvent("debug", "batch_flushed",
				logger.F("batch_size", len(batch)),
				logger.F("inserted", inserted),
				logger.F("skipped", skipped),
			)
		}
	}()

	batch := make([]manifest.FileRecord, 0, bp.batchSize)
	var runErr error

loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		case err := <-errCh:
			runErr = err
			break loop
		case record, ok := <-records:
			if !ok {
				break loop
			}

			bp.count(stats, record)
			batch = append(batch, record)

			if len(batch) >= bp.batchSize {
				flushCh <- batch
				batch = make([]manifest.FileRecord, 0, bp.batchSize)
			}

			if stats.TotalDiscovered%int64(bp.progressInterval) == 0 {
				bp.reportProgress(stats)
			}
		}
	}

	if runErr == nil && len(batch) > 0 {
		flushCh <- batch
	}
	close(flushCh)
	flusher.Wait()

	if runErr == nil {
		select {
		case err := <-errCh:
			runErr = err
		default:
		}
	}

	if runErr != nil {
		return stats, fmt.Errorf("batch processing aborted after %d records: %w", stats.TotalDiscovered, runErr)
	}
	return stats, nil
}

// count updates the run counters for one record. Skipped entries carry no
// captured ACL, so they land in the acl_failed bucket.
func (bp *BatchProcessor) count(stats *manifest.BootstrapStats, record manifest.FileRecord) {
	stats.TotalDiscovered++

	switch {
	case record.Status == manifest.StatusPermissionDenied:
		stats.PermissionErrors++
	case record.Status == manifest.StatusError:
		stats.OtherErrors++
	case record.ACLCaptured:
		stats.ACLCaptured++
	default:
		stats.ACLFailed++
	}
}

func (bp *BatchProcessor) reportProgress(stats *manifest.BootstrapStats) {
	bp.log.LogEvent("info", "progress_report",
		logger.F("total_discovered", stats.TotalDiscovered),
		logger.F("total_added", atomic.LoadInt64(&stats.TotalAdded)),
		logger.F("total_skipped", atomic.LoadInt64(&stats.TotalSkipped)),
		logger.F("permission_errors", stats.PermissionErrors),
		logger.F("acl_captured", stats.ACLCaptured),
		logger.F("acl_failed", stats.ACLFailed),
		logger.F("duration_seconds", fmt.Sprintf("%.1f", stats.Duration().Seconds())),
		logger.F("records_per_second", fmt.Sprintf("%.1f", stats.RecordsPerSecond())),
	)
}
