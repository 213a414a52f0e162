package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is a non-2xx response from the document service. Body carries the
// decoded response text for diagnostics.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed [%d]: %s", e.Op, e.StatusCode, e.Body)
}

// StatusError reports a server-side ingestion task that ended in a
// non-successful terminal state. UNKNOWN means the server lost the task.
type StatusError struct {
	TaskID string
	State  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("task %s ended in state %s", e.TaskID, e.State)
}

// IsAlreadyExists reports whether err is the server rejecting a collection
// create because the collection is already there. Callers downgrade this to
// a warning.
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Body), "exist")
}
