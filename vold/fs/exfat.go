package fs

import (
	"context"
	"fmt"

	"github.com/canonical/vold/shared"
	"golang.org/x/sys/unix"
)

const (
	exfatFsck = "fsck.exfat"
	exfatMkfs = "mkfs.exfat"
)

type exfat struct {
	driver
}

func (d *exfat) Name() string {
	return "exfat"
}

func (d *exfat) IsSupported() bool {
	return d.supported("exfat", exfatFsck, exfatMkfs)
}

func (d *exfat) Check(ctx context.Context, source string) error {
	ctx, cancel := context.WithTimeout(ctx, untrustedTimeout)
	defer cancel()

	_, err := d.opts.Run(ctx, d.opts.FsckContext, d.tool(exfatFsck), source)
	if err != nil {
		code, ok := shared.ExitCode(err)
		if ok {
			return fmt.Errorf("%w: exit code %d", ErrCheckFailed, code)
		}

		return fmt.Errorf("%w: %v", ErrCheckFailed, err)
	}

	return nil
}

func (d *exfat) Mount(source string, target string, opts MountOptions) error {
	data := fmt.Sprintf("uid=%d,gid=%d,fmask=%o,dmask=%o", opts.UID, opts.GID, opts.PermMask, opts.PermMask)

	// Executables are never allowed from exFAT media.
	flags := mountFlags(opts) | unix.MS_NOEXEC

	err := d.mount(source, target, "exfat", flags, data)
	if err != nil {
		return err
	}

	if opts.CreateLost {
		return createLost(target)
	}

	return nil
}

func (d *exfat) Format(ctx context.Context, source string, opts FormatOptions) error {
	_, err := d.opts.Run(ctx, "", d.tool(exfatMkfs), "-n", "android", source)
	if err != nil {
		return fmt.Errorf("Failed formatting %q as exfat: %w", source, err)
	}

	return nil
}
