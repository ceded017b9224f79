//go:build linux

package subprocess

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// Process is a child process supervised by a monitor goroutine that reaps it.
type Process struct {
	Name   string
	Args   []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	PID    int64

	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int64
	exitErr  error
}

// NewProcessWithFds returns a Process for name and args using the given
// standard streams. Nil streams are connected to the null device and the
// caller keeps ownership of the others.
func NewProcessWithFds(name string, args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) *Process {
	return &Process{
		Name:   name,
		Args:   args,
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
	}
}

// Start starts the process in its own session. Cancelling ctx kills it.
func (p *Process) Start(ctx context.Context) error {
	return p.StartWithFiles(ctx, nil)
}

// StartWithFiles starts the process with extra file descriptors, the first
// one being fd 3 in the child.
func (p *Process) StartWithFiles(ctx context.Context, files []*os.File) error {
	if p.cmd != nil && !p.Exited() {
		return fmt.Errorf("Process %q is already running", p.Name)
	}

	cmd := exec.CommandContext(ctx, p.Name, p.Args...)
	cmd.Stdin = p.Stdin
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	cmd.ExtraFiles = files
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	err := cmd.Start()
	if err != nil {
		return fmt.Errorf("Unable to start process: %w", err)
	}

	p.cmd = cmd
	p.PID = int64(cmd.Process.Pid)
	p.exitCode = 0
	p.exitErr = nil
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)

		err := cmd.Wait()
		p.exitCode = -1
		if cmd.ProcessState != nil {
			p.exitCode = int64(cmd.ProcessState.ExitCode())
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && p.exitCode > 0 {
			p.exitErr = fmt.Errorf("Process exited with non-zero value %d", p.exitCode)
		} else if err != nil {
			p.exitErr = err
		}
	}()

	return nil
}

// Exited returns whether a started process has exited, without blocking.
func (p *Process) Exited() bool {
	if p.done == nil {
		return false
	}

	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Signal sends signal to the process.
func (p *Process) Signal(signal syscall.Signal) error {
	if p.cmd == nil || p.Exited() {
		return ErrNotRunning
	}

	err := p.cmd.Process.Signal(signal)
	if errors.Is(err, os.ErrProcessDone) {
		return ErrNotRunning
	} else if err != nil {
		return fmt.Errorf("Could not signal process: %w", err)
	}

	return nil
}

// Stop kills the process and waits for it to be reaped.
func (p *Process) Stop() error {
	err := p.Signal(syscall.SIGKILL)
	if err != nil {
		return err
	}

	<-p.done

	return nil
}

// Wait returns the exit code of the process once it exits. If ctx is done
// first, ctx.Err() is returned and the process is still reaped when it exits.
func (p *Process) Wait(ctx context.Context) (int64, error) {
	if p.done == nil {
		return -1, fmt.Errorf("Unable to wait on process we didn't spawn")
	}

	select {
	case <-p.done:
		return p.exitCode, p.exitErr
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}
