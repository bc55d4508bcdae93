package claudecli

import (
	"errors"
	"fmt"
	"strings"
)

// InstallHint is appended to ErrBackendNotFound messages.
const InstallHint = "install it with `npm install -g @anthropic-ai/claude-code` and run `claude` once to sign in"

var (
	// ErrBackendNotFound means the backend executable is not installed.
	ErrBackendNotFound = errors.New("claude CLI not found")

	// ErrTimeout means the process outlived its deadline and was terminated.
	ErrTimeout = errors.New("claude CLI timed out")

	// ErrKilled means the process was terminated by Kill or context cancellation.
	ErrKilled = errors.New("claude CLI was terminated")

	// ErrNoResult means the process exited cleanly without a result line.
	ErrNoResult = errors.New("claude CLI exited without a result")
)

// SpawnError wraps a failure to start the backend for any reason other than
// the executable being missing.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError reports a non-zero exit that produced no result line.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("claude CLI exited with status %d", e.Code)
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func notFound(binary string) error {
	return fmt.Errorf("%w: %q is not on PATH; %s", ErrBackendNotFound, binary, InstallHint)
}
