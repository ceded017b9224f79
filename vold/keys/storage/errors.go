package storage

import (
	"fmt"
)

// ErrNotFound is returned when the key directory has no key.
var ErrNotFound = fmt.Errorf("Key not found")

// ErrAuthFailed is returned when the key can't be unwrapped with the given authentication.
var ErrAuthFailed = fmt.Errorf("Key authentication failed")

// ErrExists is returned when storing into an existing key directory.
var ErrExists = fmt.Errorf("Key directory already exists")
