package manifest

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Status is the discovery status of a manifest row.
type Status string

const (
	// StatusPending is the reserved initial status for rows that have been
	// created but not yet processed by the walker.
	StatusPending Status = "pending"
	// StatusDiscovered means stat succeeded and the ACL was captured.
	StatusDiscovered Status = "discovered"
	// StatusACLFailed means stat succeeded but ACL capture did not.
	StatusACLFailed Status = "acl_failed"
	// StatusPermissionDenied means the file itself could not be read.
	StatusPermissionDenied Status = "permission_denied"
	// StatusError covers stat timeouts and other per-file failures.
	StatusError Status = "error"
	// StatusSkipped marks symlinks and unknown entry types.
	StatusSkipped Status = "skipped"
)

// IngestionStatus is the upload-side status of a manifest row.
type IngestionStatus string

const (
	IngestionPending   IngestionStatus = "pending"
	IngestionIngesting IngestionStatus = "ingesting"
	IngestionCompleted IngestionStatus = "completed"
	IngestionFailed    IngestionStatus = "failed"
)

// FileRecord is one manifest row as produced by the walker.
// FilePath is always absolute; ParentDir is its directory component.
type FileRecord struct {
	FilePath    string
	FileName    string
	ParentDir   string
	Size        *int64
	Mtime       *int64
	RawACL      *string
	ACLCaptured bool
	Status      Status
	Error       string
	RetryCount  int
	IsDirectory bool
}

// NewSkippedRecord creates a record for an entry that is observed but never
// traversed or ingested (symlinks, sockets, devices).
func NewSkippedRecord(path, reason string) FileRecord {
	return FileRecord{
		FilePath:  path,
		FileName:  filepath.Base(path),
		ParentDir: filepath.Dir(path),
		Status:    StatusSkipped,
		Error:     reason,
	}
}

// NewPermissionErrorRecord creates a record for a file that could not be read.
func NewPermissionErrorRecord(path, errMsg string) FileRecord {
	return FileRecord{
		FilePath:  path,
		FileName:  filepath.Base(path),
		ParentDir: filepath.Dir(path),
		Status:    StatusPermissionDenied,
		Error:     errMsg,
	}
}

// NewErrorRecord creates a record for a file whose stat or processing failed.
func NewErrorRecord(path, errMsg string) FileRecord {
	return FileRecord{
		FilePath:  path,
		FileName:  filepath.Base(path),
		ParentDir: filepath.Dir(path),
		Status:    StatusError,
		Error:     errMsg,
	}
}

// Stats holds aggregate discovery-side counters from the manifest table.
type Stats struct {
	Total            int64
	Discovered       int64
	PermissionDenied int64
	ACLFailed        int64
	Errors           int64
	Skipped          int64
	ACLCaptured      int64
}

// IngestStats holds aggregate ingestion-side counters for file rows with
// discovery status "discovered".
type IngestStats struct {
	Total     int64
	Pending   int64
	Ingesting int64
	Completed int64
	Failed    int64
}

// BootstrapStats accumulates counters for one bootstrap run.
type BootstrapStats struct {
	TotalDiscovered  int64
	TotalAdded       int64
	TotalSkipped     int64
	ACLCaptured      int64
	ACLFailed        int64
	PermissionErrors int64
	OtherErrors      int64
	StartTime        time.Time
	EndTime          time.Time
}

// Duration returns the elapsed run time. If the run has not finished yet,
// it measures against the current time.
func (s *BootstrapStats) Duration() time.Duration {
	end := s.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartTime)
}

// RecordsPerSecond returns the processing rate for the run.
func (s *BootstrapStats) RecordsPerSecond() float64 {
	secs := s.Duration().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.TotalDiscovered) / secs
}

// ACLCaptureRate returns the percentage of attempted ACL captures that
// succeeded.
func (s *BootstrapStats) ACLCaptureRate() float64 {
	total := s.ACLCaptured + s.ACLFailed
	if total == 0 {
		return 0
	}
	return float64(s.ACLCaptured) / float64(total) * 100
}

// Summary returns a human-readable multi-line report for the run.
func (s *BootstrapStats) Summary() string {
	lines := []string{
		"Bootstrap complete",
		fmt.Sprintf("  Total files discovered: %d", s.TotalDiscovered),
		fmt.Sprintf("  Records added: %d", s.TotalAdded),
		fmt.Sprintf("  Records skipped (already existed): %d", s.TotalSkipped),
		fmt.Sprintf("  ACL captured: %d (%.1f%%)", s.ACLCaptured, s.ACLCaptureRate()),
		fmt.Sprintf("  ACL failed: %d", s.ACLFailed),
		fmt.Sprintf("  Permission errors: %d", s.PermissionErrors),
		fmt.Sprintf("  Other errors: %d", s.OtherErrors),
		fmt.Sprintf("  Time elapsed: %.1fs", s.Duration().Seconds()),
		fmt.Sprintf("  Records/second: %.1f", s.RecordsPerSecond()),
	}
	return strings.Join(lines, "\n")
}
