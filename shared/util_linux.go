//go:build linux

package shared

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/opencontainers/selinux/go-selinux"
	"golang.org/x/sys/unix"
)

// RunCommandInContext runs a command like RunCommandContext but executes it in the
// given SELinux context. An empty label or a system without SELinux runs the command unlabeled.
func RunCommandInContext(ctx context.Context, label string, name string, arg ...string) (string, error) {
	if label == "" || !selinux.GetEnabled() {
		return RunCommandContext(ctx, name, arg...)
	}

	// The exec label is per-thread and is consumed by the fork on this thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	err := selinux.SetExecLabel(label)
	if err != nil {
		return "", fmt.Errorf("Failed setting exec context %q: %w", label, err)
	}

	defer func() { _ = selinux.SetExecLabel("") }()

	return RunCommandContext(ctx, name, arg...)
}

// Major returns the major number of a device.
func Major(dev uint64) uint32 {
	return unix.Major(dev)
}

// Minor returns the minor number of a device.
func Minor(dev uint64) uint32 {
	return unix.Minor(dev)
}

// IsBlockdev returns true if the given mode is a block device.
func IsBlockdev(fm os.FileMode) bool {
	return ((fm&os.ModeDevice != 0) && (fm&os.ModeCharDevice == 0))
}
