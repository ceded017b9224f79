package fs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/canonical/vold/shared"
	"github.com/canonical/vold/shared/logger"
)

const (
	vfatFsck = "fsck_msdos"
	vfatMkfs = "newfs_msdos"

	// fsck_msdos exit codes.
	vfatFsckOK       = 0
	vfatFsckNotFAT   = 2
	vfatFsckModified = 4
	vfatFsckNoFS     = 8

	vfatMaxPasses = 3
)

type vfat struct {
	driver
}

func (d *vfat) Name() string {
	return "vfat"
}

func (d *vfat) IsSupported() bool {
	return d.supported("vfat", vfatFsck, vfatMkfs)
}

// Check runs fsck_msdos, again while it reports having modified the filesystem.
func (d *vfat) Check(ctx context.Context, source string) error {
	ctx, cancel := context.WithTimeout(ctx, untrustedTimeout)
	defer cancel()

	for pass := 1; ; pass++ {
		_, err := d.opts.Run(ctx, d.opts.FsckContext, d.tool(vfatFsck), "-p", "-f", "-y", source)
		code, ok := shared.ExitCode(err)
		if !ok {
			return fmt.Errorf("%w: %v", ErrCheckFailed, err)
		}

		switch code {
		case vfatFsckOK:
			logger.Info("Filesystem check completed OK", logger.Ctx{"source": source})
			return nil
		case vfatFsckNotFAT:
			return fmt.Errorf("%w: not a FAT filesystem", ErrNotFilesystem)
		case vfatFsckNoFS:
			return ErrNotFilesystem
		case vfatFsckModified:
			if pass >= vfatMaxPasses {
				return fmt.Errorf("%w: still modified after %d passes", ErrCheckFailed, pass)
			}

			logger.Warn("Filesystem modified, rechecking", logger.Ctx{"source": source, "pass": pass})
		default:
			return fmt.Errorf("%w: unknown exit code %d", ErrCheckFailed, code)
		}
	}
}

func (d *vfat) Mount(source string, target string, opts MountOptions) error {
	data := fmt.Sprintf("utf8,uid=%d,gid=%d,fmask=%o,dmask=%o,shortname=mixed,nodiscard", opts.UID, opts.GID, opts.PermMask, opts.PermMask)

	err := d.mount(source, target, "vfat", mountFlags(opts), data)
	if err != nil {
		return err
	}

	if opts.CreateLost {
		return createLost(target)
	}

	return nil
}

func (d *vfat) Format(ctx context.Context, source string, opts FormatOptions) error {
	args := []string{"-O", "android", "-A"}
	if opts.NumSectors > 0 {
		args = append(args, "-s", strconv.FormatUint(opts.NumSectors, 10))
	}

	args = append(args, source)

	_, err := d.opts.Run(ctx, "", d.tool(vfatMkfs), args...)
	if err != nil {
		return fmt.Errorf("Failed formatting %q as vfat: %w", source, err)
	}

	return nil
}
