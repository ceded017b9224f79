//go:build linux

package linux

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/canonical/vold/shared"
	"github.com/canonical/vold/shared/logger"
)

// ErrNotWiped is returned when no discard mechanism cleared the device.
var ErrNotWiped = fmt.Errorf("Block device still holds data after discard")

var wipeMarker = []byte("VOLD-WIPE")

// WipeBlock resets a block device or disk file with the most thorough discard available.
// Files are truncated down to zero and back to their original size.
// Block devices go through secure discard, regular discard and zero-out in turn, each
// validated with marker blocks written beforehand.
func WipeBlock(ctx context.Context, blockPath string) error {
	fd, err := os.OpenFile(blockPath, os.O_RDWR, 0)
	if err != nil {
		return err
	}

	defer func() { _ = fd.Close() }()

	size, err := fd.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	st, err := fd.Stat()
	if err != nil {
		return err
	}

	if !shared.IsBlockdev(st.Mode()) {
		err := fd.Truncate(0)
		if err != nil {
			return err
		}

		return fd.Truncate(size)
	}

	if size < int64(len(wipeMarker))*3 {
		return fmt.Errorf("Block device %q too small to wipe (%d bytes)", blockPath, size)
	}

	offsets := []int64{0, size / 2, size - int64(len(wipeMarker))}

	for _, offset := range offsets {
		n, err := fd.WriteAt(wipeMarker, offset)
		if err != nil {
			return err
		}

		if n != len(wipeMarker) {
			return fmt.Errorf("Only managed to write %d bytes out of %d of the %d offset marker", n, len(wipeMarker), offset)
		}
	}

	err = fd.Sync()
	if err != nil {
		return err
	}

	found, err := countMarkers(fd, offsets)
	if err != nil {
		return err
	}

	if found != len(offsets) {
		return fmt.Errorf("Some of our initial markers weren't written properly")
	}

	for _, mode := range [][]string{{"--secure"}, {}, {"--zeroout"}} {
		args := append(append([]string{"--force"}, mode...), blockPath)

		_, err := shared.RunCommandContext(ctx, "blkdiscard", args...)
		if err != nil {
			logger.Debug("Discard mode failed", logger.Ctx{"path": blockPath, "args": args, "err": err})
			continue
		}

		found, err = countMarkers(fd, offsets)
		if err != nil {
			return err
		}

		if found == 0 {
			return nil
		}
	}

	return ErrNotWiped
}

func countMarkers(fd *os.File, offsets []int64) (int, error) {
	found := 0

	for _, offset := range offsets {
		buf := make([]byte, len(wipeMarker))

		n, err := fd.ReadAt(buf, offset)
		if err != nil {
			return found, err
		}

		if n != len(wipeMarker) {
			return found, fmt.Errorf("Only managed to read %d bytes out of %d of the %d offset marker", n, len(wipeMarker), offset)
		}

		if string(buf) == string(wipeMarker) {
			found++
		}
	}

	return found, nil
}
