package acl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// GetfaclExtractor shells out to getfacl, the native ACL dump tool on Linux.
// It works well for CIFS/NTFS mounts where mode bits undersell the real
// permissions.
type GetfaclExtractor struct {
	// Timeout bounds each invocation. On expiry the child is killed and
	// reaped before Extract returns.
	Timeout time.Duration
}

func (g *GetfaclExtractor) Extract(ctx context.Context, path string) Result {
	runCtx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	// -c suppresses the comment header for compact output
	cmd := exec.CommandContext(runCtx, "getfacl", "-c", path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	// CommandContext sends SIGKILL on context expiry and Run reaps the
	// child, so no process leaks past this point.
	if runCtx.Err() == context.DeadlineExceeded {
		return Result{
			Method: "getfacl",
			Err:    fmt.Sprintf("Timeout after %gs", g.Timeout.Seconds()),
		}
	}

	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Result{Method: "getfacl", Err: "getfacl command not found"}
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			errText := strings.TrimSpace(lossyDecode(stderr.Bytes()))
			if errText == "" {
				errText = fmt.Sprintf("Exit code %d", exitErr.ExitCode())
			}
			return Result{Method: "getfacl", Err: errText}
		}

		return Result{Method: "getfacl", Err: err.Error()}
	}

	return Result{
		Raw:      strings.TrimSpace(lossyDecode(stdout.Bytes())),
		Captured: true,
		Method:   "getfacl",
	}
}

// lossyDecode converts tool output to valid UTF-8, replacing invalid bytes.
// ACL entries can carry user names in arbitrary filesystem encodings.
func lossyDecode(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
