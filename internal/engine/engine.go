// Package engine wraps the discovery and ingestion pipelines behind a
// start/stop control surface with cross-process mutual exclusion on the
// manifest database.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/manifest/internal/filelock"
	"github.com/harrison/manifest/internal/logger"
)

// ErrAlreadyRunning is returned by Start when a run is in progress.
var ErrAlreadyRunning = errors.New("engine already running")

// Status is a point-in-time snapshot of an engine.
type Status struct {
	Running   bool
	JobID     string
	PID       int
	StartTime time.Time
	Config    interface{}
}

// state carries the run lifecycle shared by both engines: one job at a
// time, a flock next to the DB file so bootstrap and ingestion exclude
// each other across processes, and a terminal error retrievable via Wait.
type state struct {
	mu        sync.Mutex
	log       logger.Logger
	running   bool
	jobID     string
	startTime time.Time
	config    interface{}
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
	lock      *filelock.FileLock
}

// lockPath returns the engine lock file guarding dbPath.
func lockPath(dbPath string) string {
	return dbPath + ".lock"
}

// begin transitions to running: rejects a concurrent Start, takes the DB
// lock, and returns a fresh job ID plus the context the run must use.
func (s *state) begin(ctx context.Context, dbPath string, config interface{}) (string, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return "", nil, ErrAlreadyRunning
	}

	lock := filelock.NewFileLock(lockPath(dbPath))
	acquired, err := lock.TryLock()
	if err != nil {
		return "", nil, fmt.Errorf("acquire engine lock: %w", err)
	}
	if !acquired {
		return "", nil, fmt.Errorf("manifest %s is locked by another process", dbPath)
	}

	runCtx, cancel := context.WithCancel(ctx)

	s.running = true
	s.jobID = uuid.New().String()
	s.startTime = time.Now()
	s.config = config
	s.cancel = cancel
	s.done = make(chan struct{})
	s.err = nil
	s.lock = lock

	return s.jobID, runCtx, nil
}

// finish records the terminal error, releases the DB lock, and unblocks Wait.
func (s *state) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.err = err
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil {
			s.log.LogWarn(fmt.Sprintf("Failed to release engine lock: %v", unlockErr))
		}
		s.lock = nil
	}
	close(s.done)
}

// Stop cancels the in-flight run. It reports whether a run was active and
// is safe to call repeatedly.
func (s *state) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}
	s.cancel()
	return true
}

// Status returns a snapshot of the engine.
func (s *state) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		Running:   s.running,
		JobID:     s.jobID,
		PID:       os.Getpid(),
		StartTime: s.startTime,
		Config:    s.config,
	}
}

// Wait blocks until the current run finishes and returns its terminal
// error. Calling Wait with no run ever started returns nil immediately.
func (s *state) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
