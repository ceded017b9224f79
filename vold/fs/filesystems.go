package fs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// SupportedFilesystems lists the filesystem types registered with the kernel.
func SupportedFilesystems() ([]string, error) {
	f, err := os.Open("/proc/filesystems")
	if err != nil {
		return nil, fmt.Errorf("Failed opening /proc/filesystems: %w", err)
	}

	defer func() { _ = f.Close() }()

	return parseFilesystems(f)
}

// Lines are "[nodev]\t<name>".
func parseFilesystems(r io.Reader) ([]string, error) {
	names := []string{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		names = append(names, fields[len(fields)-1])
	}

	err := scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("Failed reading filesystems: %w", err)
	}

	return names, nil
}
