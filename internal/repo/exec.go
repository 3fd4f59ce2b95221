package repo

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// execGit runs one git command in workDir with a wall-clock timeout.
// Failures carry the command line and trimmed stderr so operators can
// see what git said.
func execGit(ctx context.Context, timeout time.Duration, workDir string, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("git %s timed out: %s", strings.Join(args, " "), msg)
		}
		if msg != "" {
			return stderr.Bytes(), fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("git %s failed: %w", strings.Join(args, " "), err)
	}

	return stdout.Bytes(), nil
}

// parseLines splits command output into trimmed non-empty lines.
func parseLines(output []byte) []string {
	if len(output) == 0 {
		return nil
	}

	lines := strings.Split(string(output), "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}
	return result
}

// isGitLockConflict detects the transient index.lock failure another
// concurrent git process leaves behind. These resolve on their own, so
// the caller retries instead of failing.
func isGitLockConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "index.lock") ||
		strings.Contains(msg, "Another git process seems to be running")
}
