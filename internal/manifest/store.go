// Package manifest provides the durable SQLite-backed file manifest shared
// by the bootstrap and ingestion engines.
package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages the SQLite manifest database. A single Store owns the writer
// connection; concurrent readers are safe thanks to WAL journaling.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Options tunes the SQLite connection. Zero values fall back to defaults.
type Options struct {
	// CacheSizeMB is the page cache size in megabytes. Defaults to 64.
	CacheSizeMB int
}

// NewStore opens (creating if necessary) the manifest database at dbPath and
// applies any pending schema migrations.
func NewStore(dbPath string) (*Store, error) {
	return NewStoreWithOptions(dbPath, Options{})
}

// NewStoreWithOptions opens the manifest database with explicit tuning.
func NewStoreWithOptions(dbPath string, opts Options) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	return openAndInitStore(dbPath, opts)
}

// openAndInitStore opens the database connection, applies pragmas, and
// initializes the schema.
func openAndInitStore(dbPath string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection per Store: the manifest has a single writer, and a
	// pooled second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	cacheMB := opts.CacheSizeMB
	if cacheMB <= 0 {
		cacheMB = 64
	}

	// busy_timeout must be set first so the remaining pragmas wait on locks
	// held by a concurrent opener of the same file.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA cache_size=-%d", cacheMB*1024),
		"PRAGMA temp_store=MEMORY",
		"PRAGMA mmap_size=268435456",
	}

	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.InitSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on
// lock errors.
func execWithRetry(db *sql.DB, sql string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(sql)
		if err == nil {
			return nil
		}

		// Only retry on "database is locked" errors
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}

		lastErr = err
		delay := baseDelay * time.Duration(1<<attempt)
		time.Sleep(delay)
	}
	return lastErr
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string {
	return s.dbPath
}

// InitSchema applies all pending migrations. Idempotent.
func (s *Store) InitSchema() error {
	if err := s.ApplyMigrations(context.Background()); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// tableExists checks if a table exists in the database.
func (s *Store) tableExists(tableName string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
	err := s.db.QueryRow(query, tableName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table existence: %w", err)
	}
	return count > 0, nil
}

// indexExists checks if an index exists in the database.
func (s *Store) indexExists(indexName string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?`
	err := s.db.QueryRow(query, indexName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check index existence: %w", err)
	}
	return count > 0, nil
}

// BulkUpsert inserts a batch of records in a single transaction using
// INSERT OR IGNORE, then refreshes last_seen for every presented path so a
// re-scan is an idempotent refresh. Discovery fields of existing rows are
// never overwritten. Returns (inserted, skipped); a failure rolls back the
// whole batch.
func (s *Store) BulkUpsert(ctx context.Context, records []FileRecord) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO manifest
		(file_path, file_name, parent_dir, size, mtime, raw_acl, acl_captured,
		 status, error, retry_count, is_directory)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range records {
		res, err := stmt.ExecContext(ctx,
			r.FilePath,
			r.FileName,
			r.ParentDir,
			r.Size,
			r.Mtime,
			r.RawACL,
			r.ACLCaptured,
			string(r.Status),
			nullIfEmpty(r.Error),
			r.RetryCount,
			r.IsDirectory,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("insert %s: %w", r.FilePath, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, 0, fmt.Errorf("rows affected: %w", err)
		}
		inserted += int(n)
	}

	// Refresh last_seen for every path presented, inserted or not, in the
	// same transaction.
	placeholders := make([]string, len(records))
	args := make([]interface{}, len(records))
	for i, r := range records {
		placeholders[i] = "?"
		args[i] = r.FilePath
	}
	updateSQL := fmt.Sprintf(
		`UPDATE manifest SET last_seen = CURRENT_TIMESTAMP WHERE file_path IN (%s)`,
		strings.Join(placeholders, ","))
	if _, err := tx.ExecContext(ctx, updateSQL, args...); err != nil {
		return 0, 0, fmt.Errorf("refresh last_seen: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit batch: %w", err)
	}

	return inserted, len(records) - inserted, nil
}

// RecordPermissionError inserts or refreshes a permission_denied row for a
// path the walker could observe but not read.
func (s *Store) RecordPermissionError(ctx context.Context, path, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO manifest
		(file_path, file_name, parent_dir, status, error, is_directory)
		VALUES (?, ?, ?, ?, ?, 0)`,
		path, filepath.Base(path), filepath.Dir(path),
		string(StatusPermissionDenied), errMsg)
	if err != nil {
		return fmt.Errorf("insert permission error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// Row already existed: refresh the error and bump the retry counter.
		_, err = s.db.ExecContext(ctx, `UPDATE manifest
			SET status = ?, error = ?, retry_count = retry_count + 1,
			    last_seen = CURRENT_TIMESTAMP
			WHERE file_path = ?`,
			string(StatusPermissionDenied), errMsg, path)
		if err != nil {
			return fmt.Errorf("update permission error: %w", err)
		}
	}
	return nil
}

// UpdateIngestion transitions the ingestion status of a single row. The
// attempt counter always increments; ingested_at is set only when the new
// status is completed and is otherwise preserved. errMsg is stored verbatim
// (empty string clears the error).
func (s *Store) UpdateIngestion(ctx context.Context, path string, status IngestionStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE manifest
		SET ingestion_status = ?,
		    ingestion_attempts = COALESCE(ingestion_attempts, 0) + 1,
		    ingestion_error = ?,
		    ingested_at = CASE WHEN ? = 'completed' THEN CURRENT_TIMESTAMP ELSE ingested_at END
		WHERE file_path = ?`,
		string(status), nullIfEmpty(errMsg), string(status), path)
	if err != nil {
		return fmt.Errorf("update ingestion status: %w", err)
	}
	return nil
}

// ResetInFlight reverts rows left in "ingesting" by a killed process back to
// "pending" so they are retried on the next run.
func (s *Store) ResetInFlight(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE manifest
		SET ingestion_status = 'pending'
		WHERE ingestion_status = 'ingesting'`)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// FetchPending returns file rows eligible for ingestion, ordered by path so
// (batchSize, offset) is a stable cursor. Eligible means discovery status
// "discovered", not a directory, and ingestion status null, pending, or
// failed.
func (s *Store) FetchPending(ctx context.Context, batchSize, offset int) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_path, file_name, parent_dir, size, mtime,
		       raw_acl, acl_captured, status
		FROM manifest
		WHERE status = 'discovered'
		  AND is_directory = 0
		  AND (ingestion_status IS NULL
		       OR ingestion_status = 'pending'
		       OR ingestion_status = 'failed')
		ORDER BY file_path
		LIMIT ? OFFSET ?`, batchSize, offset)
	if err != nil {
		return nil, fmt.Errorf("query pending files: %w", err)
	}
	defer rows.Close()

	var records []FileRecord
	for rows.Next() {
		var r FileRecord
		var size, mtime sql.NullInt64
		var rawACL sql.NullString
		var status string
		if err := rows.Scan(&r.FilePath, &r.FileName, &r.ParentDir,
			&size, &mtime, &rawACL, &r.ACLCaptured, &status); err != nil {
			return nil, fmt.Errorf("scan pending row: %w", err)
		}
		if size.Valid {
			v := size.Int64
			r.Size = &v
		}
		if mtime.Valid {
			v := mtime.Int64
			r.Mtime = &v
		}
		if rawACL.Valid {
			v := rawACL.String
			r.RawACL = &v
		}
		r.Status = Status(status)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending rows: %w", err)
	}
	return records, nil
}

// Stats returns discovery-side counters over the whole manifest.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       SUM(CASE WHEN status = 'discovered' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'permission_denied' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'acl_failed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN acl_captured = 1 THEN 1 ELSE 0 END)
		FROM manifest`).Scan(
		&st.Total,
		&nullInt64{&st.Discovered},
		&nullInt64{&st.PermissionDenied},
		&nullInt64{&st.ACLFailed},
		&nullInt64{&st.Errors},
		&nullInt64{&st.Skipped},
		&nullInt64{&st.ACLCaptured},
	)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

// IngestionStats returns ingestion-side counters for file rows with
// discovery status "discovered".
func (s *Store) IngestionStats(ctx context.Context) (IngestStats, error) {
	var st IngestStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       SUM(CASE WHEN ingestion_status IS NULL OR ingestion_status = 'pending' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN ingestion_status = 'ingesting' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN ingestion_status = 'completed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN ingestion_status = 'failed' THEN 1 ELSE 0 END)
		FROM manifest
		WHERE is_directory = 0
		  AND status = 'discovered'`).Scan(
		&st.Total,
		&nullInt64{&st.Pending},
		&nullInt64{&st.Ingesting},
		&nullInt64{&st.Completed},
		&nullInt64{&st.Failed},
	)
	if err != nil {
		return IngestStats{}, fmt.Errorf("query ingestion stats: %w", err)
	}
	return st, nil
}

// nullIfEmpty converts "" to a SQL NULL so empty errors are stored as null.
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullInt64 scans a nullable SUM() result into an int64, treating NULL as 0.
type nullInt64 struct {
	dst *int64
}

func (n *nullInt64) Scan(src interface{}) error {
	if src == nil {
		*n.dst = 0
		return nil
	}
	switch v := src.(type) {
	case int64:
		*n.dst = v
	case float64:
		*n.dst = int64(v)
	default:
		return fmt.Errorf("unexpected type %T for counter", src)
	}
	return nil
}
