//go:build linux

// Package sys implements the system primitives volumes are built on.
package sys

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/canonical/vold/shared"
	"github.com/canonical/vold/shared/subprocess"
	"github.com/canonical/vold/vold/linux"
	"github.com/canonical/vold/vold/volume"
)

// Runner runs a command in the given SELinux context and returns its stdout.
type Runner func(ctx context.Context, label string, name string, args ...string) (string, error)

// Options configure OS.
type Options struct {
	// BlkidPath is the blkid binary used to probe untrusted devices.
	BlkidPath string

	// BlkidContext is the SELinux context blkid runs in.
	BlkidContext string

	// FuseContext and FuseFSContext label FUSE mounts.
	FuseContext   string
	FuseFSContext string

	// FuseDevice is the FUSE control device.
	FuseDevice string

	SysfsDir string
	ProcDir  string

	// KillSettle is how long processes get to exit after each signal.
	KillSettle time.Duration

	Run Runner
}

func (o *Options) fill() {
	if o.BlkidPath == "" {
		o.BlkidPath = "/system/bin/blkid"
	}

	if o.FuseDevice == "" {
		o.FuseDevice = "/dev/fuse"
	}

	if o.SysfsDir == "" {
		o.SysfsDir = "/sys"
	}

	if o.ProcDir == "" {
		o.ProcDir = procfs.DefaultMountPoint
	}

	if o.KillSettle == 0 {
		o.KillSettle = time.Second
	}

	if o.Run == nil {
		o.Run = shared.RunCommandInContext
	}
}

// OS is the Linux implementation of volume.OS.
type OS struct {
	opts Options
	proc procfs.FS
}

var _ volume.OS = (*OS)(nil)

// New returns an OS using opts.
func New(opts Options) (*OS, error) {
	opts.fill()

	proc, err := procfs.NewFS(opts.ProcDir)
	if err != nil {
		return nil, fmt.Errorf("Failed opening %q: %w", opts.ProcDir, err)
	}

	return &OS{opts: opts, proc: proc}, nil
}

// CreateDeviceNode creates a block device node for major:minor.
func (o *OS) CreateDeviceNode(path string, major uint32, minor uint32) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("Failed creating parent of %q: %w", path, err)
	}

	err = unix.Mknod(path, unix.S_IFBLK|0600, int(unix.Mkdev(major, minor)))
	if err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("Failed creating device node %q: %w", path, err)
	}

	return nil
}

// DestroyDeviceNode removes a device node. A missing node is not an error.
func (o *OS) DestroyDeviceNode(path string) error {
	err := unix.Unlink(path)
	if err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("Failed removing device node %q: %w", path, err)
	}

	return nil
}

// PrepareDir makes sure path is a directory with the given mode and ownership.
func (o *OS) PrepareDir(path string, mode os.FileMode, uid uint32, gid uint32) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("Failed creating parent of %q: %w", path, err)
	}

	err = unix.Mkdir(path, uint32(mode.Perm()))
	if err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("Failed creating %q: %w", path, err)
	}

	var st unix.Stat_t
	err = unix.Lstat(path, &st)
	if err != nil {
		return fmt.Errorf("Failed inspecting %q: %w", path, err)
	}

	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return fmt.Errorf("Path %q is not a directory", path)
	}

	if st.Mode&0777 != uint32(mode.Perm()) {
		err = unix.Chmod(path, uint32(mode.Perm()))
		if err != nil {
			return fmt.Errorf("Failed setting mode of %q: %w", path, err)
		}
	}

	if st.Uid != uid || st.Gid != gid {
		err = unix.Lchown(path, int(uid), int(gid))
		if err != nil {
			return fmt.Errorf("Failed setting owner of %q: %w", path, err)
		}
	}

	return nil
}

// RemoveDir removes an empty directory. A missing directory is not an error.
func (o *OS) RemoveDir(path string) error {
	err := unix.Rmdir(path)
	if err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("Failed removing %q: %w", path, err)
	}

	return nil
}

// PathAccessible reports whether path can be read and searched.
func (o *OS) PathAccessible(path string) bool {
	return unix.Access(path, unix.R_OK|unix.X_OK) == nil
}

// Rename renames oldPath to newPath.
func (o *OS) Rename(oldPath string, newPath string) error {
	return os.Rename(oldPath, newPath)
}

// DeviceID returns the id of the device holding path.
func (o *OS) DeviceID(path string) (uint64, error) {
	var st unix.Stat_t

	err := unix.Stat(path, &st)
	if err != nil {
		return 0, fmt.Errorf("Failed inspecting %q: %w", path, err)
	}

	return uint64(st.Dev), nil
}

// BlockDeviceSize returns the size of a block device in bytes.
func (o *OS) BlockDeviceSize(devPath string) (uint64, error) {
	size, err := linux.BlockDiskSizeBytes(devPath)
	if err != nil {
		return 0, err
	}

	return uint64(size), nil
}

// WipeBlockDevice discards the content of a block device.
func (o *OS) WipeBlockDevice(ctx context.Context, devPath string) error {
	return linux.WipeBlock(ctx, devPath)
}

// StartHelper starts a supervised helper process.
func (o *OS) StartHelper(ctx context.Context, name string, args []string) (volume.Helper, error) {
	p := subprocess.NewProcessWithFds(name, args, nil, nil, nil)

	// Helpers outlive the operation that started them.
	err := p.Start(context.WithoutCancel(ctx))
	if err != nil {
		return nil, fmt.Errorf("Failed starting %q: %w", name, err)
	}

	return p, nil
}
