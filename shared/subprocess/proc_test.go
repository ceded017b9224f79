package subprocess

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessStartWaitExit(t *testing.T) {
	var out bytes.Buffer

	p := NewProcessWithFds("sh", []string{"-c", "echo hello again; echo waiting now; exit 1"}, nil, &out, nil)

	err := p.Start(context.Background())
	require.NoError(t, err)

	ecode, err := p.Wait(context.Background())
	assert.EqualError(t, err, "Process exited with non-zero value 1")
	assert.Equal(t, int64(1), ecode)
	assert.Equal(t, "hello again\nwaiting now\n", out.String())
}

func TestProcessStop(t *testing.T) {
	p := NewProcessWithFds("sleep", []string{"60"}, nil, nil, nil)

	err := p.Start(context.Background())
	require.NoError(t, err)
	assert.NotZero(t, p.PID)
	assert.False(t, p.Exited())

	err = p.Stop()
	require.NoError(t, err)
	assert.True(t, p.Exited())

	err = p.Stop()
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestProcessSignal(t *testing.T) {
	out, err := os.Create(filepath.Join(t.TempDir(), "signal.txt"))
	require.NoError(t, err)
	defer func() { _ = out.Close() }()

	script := "trap 'echo Called with signal 10; exit 1' USR1; echo ready; while true; do sleep 0.1; done"
	p := NewProcessWithFds("sh", []string{"-c", script}, nil, out, out)

	err = p.Start(context.Background())
	require.NoError(t, err)

	// Give the shell a moment to install the trap.
	require.Eventually(t, func() bool {
		content, _ := os.ReadFile(out.Name())
		return strings.Contains(string(content), "ready")
	}, 5*time.Second, 10*time.Millisecond)

	err = p.Signal(syscall.SIGUSR1)
	require.NoError(t, err)

	ecode, err := p.Wait(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int64(1), ecode)

	content, err := os.ReadFile(out.Name())
	require.NoError(t, err)
	assert.Contains(t, string(content), "Called with signal 10")
}

func TestProcessWaitNonBlocking(t *testing.T) {
	p := NewProcessWithFds("sleep", []string{"60"}, nil, nil, nil)

	err := p.Start(context.Background())
	require.NoError(t, err)
	defer func() { _ = p.Stop() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, p.Exited())

	assert.Error(t, p.Start(context.Background()))
}

func TestProcessWithFiles(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "extra"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	p := NewProcessWithFds("sh", []string{"-c", "echo fd3 >&3"}, nil, nil, nil)
	err = p.StartWithFiles(context.Background(), []*os.File{f})
	require.NoError(t, err)

	ecode, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), ecode)

	content, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "fd3\n", string(content))
}

func TestProcessNotStarted(t *testing.T) {
	p := &Process{}
	_, err := p.Wait(context.Background())
	assert.Error(t, err)
	assert.ErrorIs(t, p.Signal(syscall.SIGTERM), ErrNotRunning)
	assert.False(t, p.Exited())
}
