package shared

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// RunError is returned when a command run by RunCommandContext fails.
type RunError struct {
	cmd    string
	args   []string
	err    error
	stderr bytes.Buffer
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("Failed to run: %s %s: %v", e.cmd, strings.Join(e.args, " "), e.err)

	stderr := strings.TrimSpace(e.stderr.String())
	if stderr != "" {
		msg += " (" + stderr + ")"
	}

	return msg
}

func (e *RunError) Unwrap() error {
	return e.err
}

// StdErr returns what the command wrote to its standard error.
func (e *RunError) StdErr() string {
	return e.stderr.String()
}

// ExitCode returns the exit code of the command that produced err.
// ok is false when err doesn't carry an exit status.
func ExitCode(err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, false
	}

	return exitErr.ExitCode(), true
}

// RunCommandContext runs a command and returns its standard output. A
// command that fails to start or exits non zero returns a *RunError.
func RunCommandContext(ctx context.Context, name string, arg ...string) (string, error) {
	var stdout bytes.Buffer
	runErr := &RunError{cmd: name, args: arg}

	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Stdout = &stdout
	cmd.Stderr = &runErr.stderr

	err := cmd.Run()
	if err != nil {
		runErr.err = err
		return stdout.String(), runErr
	}

	return stdout.String(), nil
}

// PathExists checks if the given path exists in the filesystem.
func PathExists(name string) bool {
	_, err := os.Lstat(name)
	return err == nil || !os.IsNotExist(err)
}

// ValueInSlice returns true if key is in list.
func ValueInSlice[T comparable](key T, list []T) bool {
	for _, entry := range list {
		if entry == key {
			return true
		}
	}

	return false
}
