package acl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"
)

// StatExtractor is the fallback strategy: it serializes basic file metadata
// as a small JSON object. Captured ACLs from this method describe ownership
// and mode bits only.
type StatExtractor struct {
	// Timeout bounds the stat call; network filesystems can hang it.
	Timeout time.Duration
}

// statInfo is the JSON shape stored in raw_acl by the stat strategy.
type statInfo struct {
	Mode  string  `json:"mode"`
	UID   uint32  `json:"uid"`
	GID   uint32  `json:"gid"`
	Size  int64   `json:"size"`
	Mtime float64 `json:"mtime"`
	Atime float64 `json:"atime"`
	Ctime float64 `json:"ctime"`
}

func (s *StatExtractor) Extract(ctx context.Context, path string) Result {
	statCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	type statOutcome struct {
		info os.FileInfo
		err  error
	}

	// Stat runs on its own goroutine so a hung filesystem call cannot
	// stall the caller past the timeout. The goroutine is abandoned on
	// expiry; the buffered channel lets it finish without blocking.
	done := make(chan statOutcome, 1)
	go func() {
		info, err := os.Stat(path)
		done <- statOutcome{info: info, err: err}
	}()

	select {
	case <-statCtx.Done():
		return Result{
			Method: "stat",
			Err:    fmt.Sprintf("Stat timeout after %gs", s.Timeout.Seconds()),
		}
	case outcome := <-done:
		if outcome.err != nil {
			return Result{Method: "stat", Err: outcome.err.Error()}
		}

		info := statInfo{Size: outcome.info.Size()}
		if sys, ok := outcome.info.Sys().(*syscall.Stat_t); ok {
			info.Mode = fmt.Sprintf("0o%o", sys.Mode)
			info.UID = sys.Uid
			info.GID = sys.Gid
			info.Mtime = timespecSeconds(sys.Mtim)
			info.Atime = timespecSeconds(sys.Atim)
			info.Ctime = timespecSeconds(sys.Ctim)
		} else {
			info.Mode = fmt.Sprintf("0o%o", uint32(outcome.info.Mode().Perm()))
			info.Mtime = float64(outcome.info.ModTime().UnixNano()) / 1e9
		}

		raw, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return Result{Method: "stat", Err: err.Error()}
		}

		return Result{Raw: string(raw), Captured: true, Method: "stat"}
	}
}

func timespecSeconds(ts syscall.Timespec) float64 {
	return float64(ts.Sec) + float64(ts.Nsec)/1e9
}
