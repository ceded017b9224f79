package keys

import (
	"github.com/canonical/vold/vold/util"
)

// Sizes of raw keys.
const (
	MaxKeySize     = 64
	WrappedKeySize = 32
)

// Key is raw key material. Its owner must Wipe it once done.
type Key []byte

// Wipe zeroes the key.
func (k Key) Wipe() {
	util.Wipe(k)
}

// String never reveals the key.
func (k Key) String() string {
	return "<key>"
}

// KeyGeneration describes how a key is obtained.
type KeyGeneration struct {
	KeySize               int
	AllowGenerate         bool
	UseHardwareWrappedKey bool
}

// NeverGenerate returns a KeyGeneration only retrieving existing keys.
func NeverGenerate() KeyGeneration {
	return KeyGeneration{}
}

// GenerationFor returns the KeyGeneration for keys used with options.
func GenerationFor(options EncryptionOptions) KeyGeneration {
	if options.UseHardwareWrappedKey {
		return KeyGeneration{KeySize: WrappedKeySize, AllowGenerate: true, UseHardwareWrappedKey: true}
	}

	return KeyGeneration{KeySize: MaxKeySize, AllowGenerate: true}
}
