//go:build linux

package version

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// KernelVersion returns the running kernel release as a dotted version.
func KernelVersion() (*DottedVersion, error) {
	release, err := kernelRelease()
	if err != nil {
		return nil, err
	}

	return Parse(release)
}

func kernelRelease() (string, error) {
	var uname unix.Utsname
	err := unix.Uname(&uname)
	if err != nil {
		return "", fmt.Errorf("Failed getting kernel release: %w", err)
	}

	return unix.ByteSliceToString(uname.Release[:]), nil
}

func getUserAgent() string {
	tokens := []string{strings.ToUpper(runtime.GOOS[:1]) + runtime.GOOS[1:], runtime.GOARCH}

	release, err := kernelRelease()
	if err == nil {
		tokens = append(tokens, strings.Split(release, "-")[0])
	}

	return fmt.Sprintf("vold %s (%s)", Version, strings.Join(tokens, "; "))
}
