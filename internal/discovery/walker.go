// Package discovery walks the filesystem tree and feeds file records into
// the manifest in batches.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harrison/manifest/internal/acl"
	"github.com/harrison/manifest/internal/config"
	"github.com/harrison/manifest/internal/logger"
	"github.com/harrison/manifest/internal/manifest"
)

// Walker traverses a directory tree depth-first and emits one record per
// file entry. Directories are recursed into but never emitted. Symlinks are
// never followed.
//
// The traversal itself is single-threaded; per-file stat and ACL work runs
// on a bounded worker pool so one hung file cannot stall the tree.
type Walker struct {
	extractor  acl.Extractor
	log        logger.Logger
	timeout    time.Duration
	retryDelay time.Duration
	maxRetries int
	workers    int
}

// NewWalker creates a Walker from bootstrap configuration.
func NewWalker(cfg *config.BootstrapConfig, extractor acl.Extractor, log logger.Logger) *Walker {
	return &Walker{
		extractor:  extractor,
		log:        log,
		timeout:    cfg.FileTimeout(),
		retryDelay: cfg.RetryDelay,
		maxRetries: cfg.MaxRetries,
		workers:    cfg.Workers,
	}
}

// Walk streams records for every entry under root. The returned channel is
// closed when the walk finishes or ctx is cancelled. A missing or unreadable
// root produces an empty stream after an error log; per-entry failures
// surface as records, never as walk termination.
func (w *Walker) Walk(ctx context.Context, root string) <-chan manifest.FileRecord {
	out := make(chan manifest.FileRecord, w.workers)

	resolved, err := filepath.Abs(root)
	if err == nil {
		// Resolve the root itself through symlinks; entries below it
		// are never followed.
		if r, evalErr := filepath.EvalSymlinks(resolved); evalErr == nil {
			resolved = r
		}
	}

	if _, statErr := os.Stat(resolved); statErr != nil {
		w.log.LogEvent("error", "root_path_not_found", logger.F("path", resolved))
		close(out)
		return out
	}

	go func() {
		defer close(out)

		// One readdir serves both the root permission check and the root
		// scan; network mounts make a duplicate read expensive.
		entries, err := w.scanDir(ctx, resolved)
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				w.log.LogEvent("error", "root_permission_denied",
					logger.F("path", resolved),
					logger.F("likely_cause", "Service account lacks read permissions on root"),
					logger.F("developer_action", "Check share ACLs and mount options for service account"),
				)
			}
			return
		}

		sem := make(chan struct{}, w.workers)
		var wg sync.WaitGroup

		w.walkEntries(ctx, resolved, entries, out, sem, &wg)
		wg.Wait()
	}()

	return out
}

// walkDir scans one directory and recurses into its children. Parents are
// always visited before their children; sibling file records may arrive in
// any order because of the worker pool.
func (w *Walker) walkDir(ctx context.Context, dir string, out chan<- manifest.FileRecord, sem chan struct{}, wg *sync.WaitGroup) {
	if ctx.Err() != nil {
		return
	}

	entries, err := w.scanDir(ctx, dir)
	if err != nil {
		// Subtree is pruned; directory failures are never attributed
		// to individual files.
		return
	}

	w.walkEntries(ctx, dir, entries, out, sem, wg)
}

// walkEntries dispatches the children of one already-scanned directory.
func (w *Walker) walkEntries(ctx context.Context, dir string, entries []os.DirEntry, out chan<- manifest.FileRecord, sem chan struct{}, wg *sync.WaitGroup) {
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}

		path := filepath.Join(dir, entry.Name())

		switch {
		case entry.Type()&fs.ModeSymlink != 0:
			w.log.LogEvent("info", "symlink_skipped",
				logger.F("path", path),
				logger.F("reason", "Prevent cycles"),
			)
			w.send(ctx, out, manifest.NewSkippedRecord(path, "Symlink skipped to prevent cycles"))

		case entry.IsDir():
			w.walkDir(ctx, path, out, sem, wg)

		case entry.Type().IsRegular():
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(path, name string) {
				defer wg.Done()
				defer func() { <-sem }()
				w.send(ctx, out, w.processFile(ctx, path, name))
			}(path, entry.Name())

		default:
			w.log.LogEvent("debug", "unknown_entry_type",
				logger.F("path", path),
				logger.F("entry_type", entry.Type().String()),
			)
			w.send(ctx, out, manifest.NewSkippedRecord(path, "Unknown entry type"))
		}
	}
}

// scanDir reads a directory with retry and exponential backoff. Returns the
// last error when the directory cannot be scanned; no record is emitted for
// the directory itself.
func (w *Walker) scanDir(ctx context.Context, dir string) ([]os.DirEntry, error) {
	var lastErr error
	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		entries, err := os.ReadDir(dir)
		if err == nil {
			return entries, nil
		}
		lastErr = err

		if errors.Is(err, fs.ErrPermission) {
			w.log.LogEvent("warn", "directory_permission_denied",
				logger.F("path", dir),
				logger.F("attempt", attempt),
				logger.F("max_retries", w.maxRetries),
				logger.F("likely_cause", "Service account lacks read permissions"),
				logger.F("developer_action", "Check share ACLs and mount options for service account"),
			)
			if attempt == w.maxRetries {
				w.log.LogEvent("error", "directory_scan_failed",
					logger.F("path", dir),
					logger.F("error", "Permission denied - cannot scan directory for files"),
				)
				return nil, lastErr
			}
		} else {
			w.log.LogEvent("warn", "directory_access_error",
				logger.F("path", dir),
				logger.F("attempt", attempt),
				logger.F("max_retries", w.maxRetries),
				logger.F("error", err.Error()),
				logger.F("likely_cause", "Network mount may be unstable"),
				logger.F("developer_action", "Check network connectivity and mount status"),
			)
			if attempt == w.maxRetries {
				w.log.LogEvent("error", "directory_scan_failed",
					logger.F("path", dir),
					logger.F("error", fmt.Sprintf("OS error - cannot scan directory for files: %v", err)),
				)
				return nil, lastErr
			}
		}

		// Exponential backoff: delay, 2*delay, 4*delay, ...
		backoff := w.retryDelay << (attempt - 1)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// processFile stats a file and captures its ACL, both bounded by the
// configured timeout. Always returns a record; failures become error or
// permission_denied statuses.
func (w *Walker) processFile(ctx context.Context, path, name string) manifest.FileRecord {
	info, err := w.statWithTimeout(ctx, path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			w.log.LogEvent("warn", "stat_timeout",
				logger.F("path", path),
				logger.F("timeout_seconds", w.timeout.Seconds()),
				logger.F("likely_cause", "File operation hung"),
				logger.F("developer_action", "Check share health and network stability"),
			)
			return manifest.NewErrorRecord(path, fmt.Sprintf("Stat timeout after %gs", w.timeout.Seconds()))
		}
		if errors.Is(err, fs.ErrPermission) {
			w.log.LogEvent("warn", "entry_permission_denied",
				logger.F("path", path),
				logger.F("error", err.Error()),
				logger.F("likely_cause", "File locked or ACL prevents read"),
				logger.F("developer_action", "Check file permissions and ensure file is not locked"),
			)
			return manifest.NewPermissionErrorRecord(path, fmt.Sprintf("Permission denied: %v", err))
		}
		w.log.LogEvent("warn", "entry_access_error",
			logger.F("path", path),
			logger.F("error", err.Error()),
			logger.F("likely_cause", "Transient share error or corrupted file"),
			logger.F("developer_action", "Check share health and file integrity"),
		)
		return manifest.NewPermissionErrorRecord(path, fmt.Sprintf("OS error: %v", err))
	}

	aclResult := w.extractor.Extract(ctx, path)

	size := info.Size()
	mtime := info.ModTime().Unix()

	record := manifest.FileRecord{
		FilePath:    path,
		FileName:    name,
		ParentDir:   filepath.Dir(path),
		Size:        &size,
		Mtime:       &mtime,
		ACLCaptured: aclResult.Captured,
	}

	if aclResult.Captured {
		raw := aclResult.Raw
		record.RawACL = &raw
		record.Status = manifest.StatusDiscovered
	} else {
		record.Status = manifest.StatusACLFailed
		record.Error = aclResult.Err
	}

	return record
}

// statWithTimeout runs Lstat on its own goroutine so a hung filesystem call
// cannot hold a worker slot past the timeout.
func (w *Walker) statWithTimeout(ctx context.Context, path string) (os.FileInfo, error) {
	statCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	type outcome struct {
		info os.FileInfo
		err  error
	}

	done := make(chan outcome, 1)
	go func() {
		info, err := os.Lstat(path)
		done <- outcome{info: info, err: err}
	}()

	select {
	case <-statCtx.Done():
		return nil, statCtx.Err()
	case o := <-done:
		return o.info, o.err
	}
}

// send delivers a record unless the walk has been cancelled.
func (w *Walker) send(ctx context.Context, out chan<- manifest.FileRecord, record manifest.FileRecord) bool {
	select {
	case out <- record:
		return true
	case <-ctx.Done():
		return false
	}
}
