// Package acl captures access control metadata for discovered files.
//
// Extraction never fails hard: every strategy returns a Result describing
// what was captured (or why nothing was), and the walker maps that onto the
// record's discovery status.
package acl

import (
	"context"
	"fmt"
	"time"
)

// Result is the outcome of one ACL extraction attempt.
type Result struct {
	// Raw is the captured ACL blob. Empty when Captured is false.
	Raw string

	// Captured reports whether extraction succeeded.
	Captured bool

	// Method names the strategy that produced this result
	// (getfacl, stat, noop).
	Method string

	// Err carries the failure description when Captured is false.
	Err string
}

// Extractor captures ACL metadata for a single path. Implementations never
// return a Go error; failures are encoded in the Result.
type Extractor interface {
	Extract(ctx context.Context, path string) Result
}

// New selects an extractor by tag. Valid tags: getfacl (native tool with
// stat fallback), stat (metadata only), noop (capture nothing).
func New(tag string, timeout time.Duration) (Extractor, error) {
	switch tag {
	case "getfacl":
		return &CompositeExtractor{
			primary:  &GetfaclExtractor{Timeout: timeout},
			fallback: &StatExtractor{Timeout: timeout},
		}, nil
	case "stat":
		return &StatExtractor{Timeout: timeout}, nil
	case "noop":
		return NoopExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown acl extractor %q, must be one of: getfacl, stat, noop", tag)
	}
}

// CompositeExtractor tries a primary strategy and falls back on any failure,
// including a missing native tool.
type CompositeExtractor struct {
	primary  Extractor
	fallback Extractor
}

func (c *CompositeExtractor) Extract(ctx context.Context, path string) Result {
	if result := c.primary.Extract(ctx, path); result.Captured {
		return result
	}
	return c.fallback.Extract(ctx, path)
}

// NoopExtractor captures nothing. Every file ends up acl_failed, which also
// keeps it out of the ingestion pending set.
type NoopExtractor struct{}

func (NoopExtractor) Extract(ctx context.Context, path string) Result {
	return Result{Captured: false, Method: "noop"}
}
