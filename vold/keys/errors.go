package keys

import (
	"fmt"

	"github.com/canonical/vold/vold/util"
)

// ErrGenerationDisallowed is returned when asked to generate a key with generation disabled.
var ErrGenerationDisallowed = fmt.Errorf("Key generation not allowed")

// ErrEntropyUnavailable is returned when the random source fails.
var ErrEntropyUnavailable = util.ErrEntropyUnavailable

// ErrKeyNotFound is returned when no key is stored and generation is disabled.
var ErrKeyNotFound = fmt.Errorf("Key not found")

// ErrAuthenticationFailed is returned when a stored key can't be unlocked with the given authentication.
var ErrAuthenticationFailed = fmt.Errorf("Key authentication failed")

// ErrInstallRejected is returned when the kernel refuses the key or the encryption options.
var ErrInstallRejected = fmt.Errorf("Kernel rejected encryption key")

// ErrInvalidOptions is returned when parsing malformed encryption options.
var ErrInvalidOptions = fmt.Errorf("Invalid encryption options")
