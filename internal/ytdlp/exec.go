package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrNotFound means the executable could not be started at all.
	ErrNotFound = errors.New("executable not found")
	// ErrTimeout means an auxiliary command exceeded its deadline and was killed.
	ErrTimeout = errors.New("command timed out")
)

const (
	ToolCheckTimeout = 12 * time.Second
	QueryTimeout     = 25 * time.Second
	InspectTimeout   = 45 * time.Second
)

// CaptureFirstLine runs bin and returns the first non-empty stdout line.
// A non-zero exit is an error carrying stderr (or stdout when stderr is empty).
func CaptureFirstLine(ctx context.Context, bin string, args []string, timeout time.Duration) (string, error) {
	var stdout, stderr bytes.Buffer
	if err := runAux(ctx, bin, args, timeout, &stdout, &stderr); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = strings.TrimSpace(stdout.String())
			}
			if detail == "" {
				detail = exitErr.Error()
			}
			return "", fmt.Errorf("%s failed: %s", bin, detail)
		}
		return "", err
	}
	for _, line := range strings.Split(strings.ReplaceAll(stdout.String(), "\r\n", "\n"), "\n") {
		if l := strings.TrimSpace(line); l != "" {
			return l, nil
		}
	}
	return "", nil
}

// ExitZero runs bin and reports whether it exited zero. The error is non-nil
// only when the command could not run to completion (missing executable,
// start failure, timeout), so callers can tell "absent" from "ran and failed".
func ExitZero(ctx context.Context, bin string, args []string, timeout time.Duration) (bool, error) {
	err := runAux(ctx, bin, args, timeout, nil, nil)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

func runAux(ctx context.Context, bin string, args []string, timeout time.Duration, stdout, stderr *bytes.Buffer) error {
	if strings.TrimSpace(bin) == "" {
		return fmt.Errorf("%w: empty command", ErrNotFound)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	configureProcAttr(cmd)
	cmd.Cancel = func() error {
		return killProcess(cmd)
	}
	cmd.WaitDelay = 2 * time.Second
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}

	if err := cmd.Start(); err != nil {
		return classifyStartErr(bin, err)
	}
	err := cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %s after %s", ErrTimeout, bin, timeout)
	}
	return err
}

func classifyStartErr(bin string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %s: %v", ErrNotFound, bin, err)
	}
	return fmt.Errorf("start %s: %w", bin, err)
}
