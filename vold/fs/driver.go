// Package fs drives the filesystem tools used to check, mount and format volumes.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/canonical/vold/shared"
)

// ErrNotFilesystem is returned by Check when the device holds no filesystem of the driver's type.
var ErrNotFilesystem = fmt.Errorf("No filesystem found")

// ErrCheckFailed is returned by Check when the filesystem is damaged beyond repair.
var ErrCheckFailed = fmt.Errorf("Filesystem check failed")

// untrustedTimeout bounds checks of removable media.
const untrustedTimeout = 45 * time.Second

// Driver checks, mounts and formats one filesystem type.
type Driver interface {
	Name() string
	IsSupported() bool
	Check(ctx context.Context, source string) error
	Mount(source string, target string, opts MountOptions) error
	Format(ctx context.Context, source string, opts FormatOptions) error
}

// MountOptions are the options of Driver.Mount.
type MountOptions struct {
	ReadOnly   bool
	Remount    bool
	Executable bool
	UID        uint32
	GID        uint32
	PermMask   uint32
	CreateLost bool
}

// FormatOptions are the options of Driver.Format.
type FormatOptions struct {
	NumSectors uint64
}

// Runner runs a command in the given SELinux context and returns its stdout.
type Runner func(ctx context.Context, label string, name string, args ...string) (string, error)

// Options configure the drivers.
type Options struct {
	// BinDir is where the filesystem tools live.
	BinDir string

	// FsckContext is the SELinux context untrusted checks run in.
	FsckContext string

	Run         Runner
	Mount       func(source string, target string, fstype string, flags uintptr, data string) error
	Executable  func(path string) bool
	Filesystems func() ([]string, error)
}

func (o *Options) fill() {
	if o.BinDir == "" {
		o.BinDir = "/system/bin"
	}

	if o.Run == nil {
		o.Run = shared.RunCommandInContext
	}

	if o.Mount == nil {
		o.Mount = unix.Mount
	}

	if o.Executable == nil {
		o.Executable = func(path string) bool {
			return unix.Access(path, unix.X_OK) == nil
		}
	}

	if o.Filesystems == nil {
		o.Filesystems = SupportedFilesystems
	}
}

// driver holds what all drivers share.
type driver struct {
	opts Options
}

func (d *driver) tool(name string) string {
	return filepath.Join(d.opts.BinDir, name)
}

func (d *driver) supported(fsType string, tools ...string) bool {
	for _, tool := range tools {
		if !d.opts.Executable(d.tool(tool)) {
			return false
		}
	}

	names, err := d.opts.Filesystems()
	if err != nil {
		return false
	}

	return shared.ValueInSlice(fsType, names)
}

// mount mounts source, retrying read-only if the device is write protected.
func (d *driver) mount(source string, target string, fsType string, flags uintptr, data string) error {
	err := d.opts.Mount(source, target, fsType, flags, data)
	if errors.Is(err, unix.EROFS) && flags&unix.MS_RDONLY == 0 {
		err = d.opts.Mount(source, target, fsType, flags|unix.MS_RDONLY, data)
	}

	if err != nil {
		return fmt.Errorf("Failed mounting %q on %q using %q: %w", source, target, fsType, err)
	}

	return nil
}

func mountFlags(opts MountOptions) uintptr {
	flags := uintptr(unix.MS_NODEV | unix.MS_NOSUID | unix.MS_DIRSYNC | unix.MS_NOATIME)
	if !opts.Executable {
		flags |= unix.MS_NOEXEC
	}

	if opts.ReadOnly {
		flags |= unix.MS_RDONLY
	}

	if opts.Remount {
		flags |= unix.MS_REMOUNT
	}

	return flags
}

func createLost(target string) error {
	err := os.Mkdir(filepath.Join(target, "LOST.DIR"), 0755)
	if err != nil && !os.IsExist(err) {
		return fmt.Errorf("Failed creating LOST.DIR: %w", err)
	}

	return nil
}

// Load returns the supported drivers keyed by filesystem type.
func Load(opts Options) map[string]Driver {
	opts.fill()

	drivers := map[string]Driver{}
	for _, d := range []Driver{&vfat{driver{opts}}, &exfat{driver{opts}}} {
		drivers[d.Name()] = d
	}

	return drivers
}
