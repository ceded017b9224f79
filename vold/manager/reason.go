package manager

import (
	"errors"

	"github.com/canonical/vold/vold/keys"
	"github.com/canonical/vold/vold/volume"
)

var reasons = []struct {
	err    error
	reason string
}{
	{keys.ErrGenerationDisallowed, "generation-disallowed"},
	{keys.ErrEntropyUnavailable, "entropy-unavailable"},
	{keys.ErrKeyNotFound, "key-not-found"},
	{keys.ErrAuthenticationFailed, "authentication-failed"},
	{keys.ErrInstallRejected, "install-rejected"},
	{keys.ErrInvalidOptions, "invalid-options"},
	{volume.ErrInvalidState, "invalid-state"},
	{volume.ErrUnsupportedFilesystem, "unsupported-filesystem"},
	{volume.ErrCheckFailed, "check-failed"},
	{volume.ErrHelperStartupTimeout, "helper-startup-timeout"},
	{volume.ErrFuseNotReady, "fuse-not-ready"},
	{volume.ErrDeviceIO, "device-io"},
	{volume.ErrResourceBusy, "resource-busy"},
}

// Reason returns the coarse reason code reported for err. A nil error is "ok".
func Reason(err error) string {
	if err == nil {
		return "ok"
	}

	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}

	return "unknown"
}
