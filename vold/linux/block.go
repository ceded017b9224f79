//go:build linux

package linux

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// BlockDiskSizeBytes returns the size of a block device, or of a regular
// file standing in for one.
func BlockDiskSizeBytes(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return -1, fmt.Errorf("Failed opening %q: %w", path, err)
	}

	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return -1, fmt.Errorf("Failed to stat %q: %w", path, err)
	}

	if st.Mode().IsRegular() {
		return st.Size(), nil
	}

	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return -1, fmt.Errorf("Failed getting size of %q: %w", path, err)
	}

	return int64(size), nil
}
