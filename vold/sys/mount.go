//go:build linux

package sys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/moby/sys/mountinfo"
	"github.com/opencontainers/selinux/go-selinux/label"
	"golang.org/x/sys/unix"

	"github.com/canonical/vold/shared"
	"github.com/canonical/vold/shared/logger"
	"github.com/canonical/vold/shared/revert"
	"github.com/canonical/vold/vold/volume"
)

const fuseMountFlags = unix.MS_NOSUID | unix.MS_NODEV | unix.MS_NOEXEC | unix.MS_NOATIME | unix.MS_LAZYTIME

func isGone(err error) bool {
	return errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOENT)
}

// BindMount bind mounts source on target.
func (o *OS) BindMount(source string, target string) error {
	err := unix.Mount(source, target, "", unix.MS_BIND|unix.MS_REC, "")
	if err != nil {
		return fmt.Errorf("Failed bind mounting %q on %q: %w", source, target, err)
	}

	return nil
}

// ForceUnmount unmounts path, killing processes using it with escalating signals if needed.
// A path that is not mounted is not an error.
func (o *OS) ForceUnmount(path string) error {
	mounted, err := mountinfo.Mounted(path)
	if err == nil && !mounted {
		return nil
	}

	err = unix.Unmount(path, unix.UMOUNT_NOFOLLOW)
	if err == nil || isGone(err) {
		return nil
	}

	for _, sig := range []unix.Signal{unix.SIGTERM, unix.SIGKILL} {
		logger.Warn("Failed unmounting, killing users", logger.Ctx{"path": path, "signal": sig, "err": err})

		_, killErr := o.signalProcessesUsingPath(path, sig)
		if killErr != nil {
			logger.Warn("Failed signaling processes", logger.Ctx{"path": path, "err": killErr})
		}

		err = unix.Unmount(path, unix.UMOUNT_NOFOLLOW)
		if err == nil || isGone(err) {
			return nil
		}
	}

	return fmt.Errorf("Failed unmounting %q: %w", path, err)
}

// LazyUnmount detaches path from the mount tree.
func (o *OS) LazyUnmount(path string) error {
	err := unix.Unmount(path, unix.UMOUNT_NOFOLLOW|unix.MNT_DETACH)
	if err != nil && !isGone(err) {
		return fmt.Errorf("Failed detaching %q: %w", path, err)
	}

	return nil
}

// fuseOptions builds the mount data of a FUSE mount served on fd.
func (o *OS) fuseOptions(fd uintptr) string {
	opts := fmt.Sprintf("fd=%d,rootmode=40000,default_permissions,allow_other,user_id=0,group_id=0", fd)
	opts = label.FormatMountLabel(opts, o.opts.FuseContext)

	if o.opts.FuseFSContext != "" {
		opts = fmt.Sprintf("%s,fscontext=%s", opts, o.opts.FuseFSContext)
	}

	return opts
}

// MountFuse mounts a FUSE filesystem on fusePath and exposes lowerPath on passThroughPath for
// the file server. It returns the FUSE channel.
func (o *OS) MountFuse(fusePath string, passThroughPath string, lowerPath string) (*os.File, error) {
	reverter := revert.New()
	defer reverter.Fail()

	dirs := []struct {
		path string
		mode os.FileMode
		uid  uint32
		gid  uint32
	}{
		{filepath.Dir(filepath.Dir(fusePath)), 0710, volume.AIDRoot, volume.AIDMediaRW},
		{filepath.Dir(fusePath), 0710, volume.AIDRoot, volume.AIDMediaRW},
		{fusePath, 0700, volume.AIDRoot, volume.AIDRoot},
		{filepath.Dir(passThroughPath), 0710, volume.AIDRoot, volume.AIDMediaRW},
		{passThroughPath, 0710, volume.AIDRoot, volume.AIDMediaRW},
	}

	for _, dir := range dirs {
		err := o.PrepareDir(dir.path, dir.mode, dir.uid, dir.gid)
		if err != nil {
			return nil, err
		}
	}

	fuse, err := os.OpenFile(o.opts.FuseDevice, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("Failed opening %q: %w", o.opts.FuseDevice, err)
	}

	reverter.Add(func() { _ = fuse.Close() })

	err = unix.Mount(o.opts.FuseDevice, fusePath, "fuse", fuseMountFlags, o.fuseOptions(fuse.Fd()))
	if err != nil {
		return nil, fmt.Errorf("Failed mounting FUSE on %q: %w", fusePath, err)
	}

	reverter.Add(func() { _ = o.LazyUnmount(fusePath) })

	err = o.BindMount(lowerPath, passThroughPath)
	if err != nil {
		return nil, err
	}

	reverter.Success()

	return fuse, nil
}

// UnmountFuse undoes MountFuse.
func (o *OS) UnmountFuse(fusePath string, passThroughPath string) error {
	err := o.ForceUnmount(passThroughPath)
	if err != nil {
		logger.Warn("Failed unmounting pass through path", logger.Ctx{"path": passThroughPath, "err": err})
	}

	_ = o.RemoveDir(passThroughPath)

	err = o.ForceUnmount(fusePath)
	if err != nil {
		logger.Warn("Failed unmounting FUSE, detaching lazily", logger.Ctx{"path": fusePath, "err": err})

		err = o.LazyUnmount(fusePath)
		if err != nil {
			return err
		}
	}

	_ = o.RemoveDir(fusePath)

	return nil
}

// bdiPath returns the sysfs knob of the backing device of a mount.
func (o *OS) bdiPath(mountPath string, knob string) (string, error) {
	dev, err := o.DeviceID(mountPath)
	if err != nil {
		return "", err
	}

	return filepath.Join(o.opts.SysfsDir, "class", "bdi", fmt.Sprintf("%d:%d", shared.Major(dev), shared.Minor(dev)), knob), nil
}

func (o *OS) writeBDI(mountPath string, knob string, value int64) error {
	path, err := o.bdiPath(mountPath, knob)
	if err != nil {
		return err
	}

	err = os.WriteFile(path, []byte(strconv.FormatInt(value, 10)), 0)
	if err != nil {
		return fmt.Errorf("Failed writing %q: %w", path, err)
	}

	return nil
}

// SetFuseReadAhead sets the read ahead of the FUSE mount at fusePath.
func (o *OS) SetFuseReadAhead(fusePath string, kb int64) error {
	return o.writeBDI(fusePath, "read_ahead_kb", kb)
}

// SetFuseMaxDirtyRatio caps the share of dirty pages the FUSE mount at fusePath may hold.
func (o *OS) SetFuseMaxDirtyRatio(fusePath string, ratio int64) error {
	return o.writeBDI(fusePath, "max_ratio", ratio)
}
