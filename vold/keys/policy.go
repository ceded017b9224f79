package keys

import (
	"bytes"
	"crypto/sha512"

	"github.com/canonical/vold/vold/util"
)

// Sizes of kernel key references.
const (
	DescriptorSize = 8
	IdentifierSize = 16
)

// EncryptionPolicy references a key installed in the kernel.
// Its owner keeps it for the lifetime of the mount and hands it back to Evict.
type EncryptionPolicy struct {
	Options EncryptionOptions

	// Ref is the v1 key descriptor or the v2 key identifier.
	Ref []byte
}

// Reference returns the hex form of the key reference.
func (p EncryptionPolicy) Reference() string {
	return util.StrToHex(p.Ref)
}

// Equal reports whether both policies were produced by the same key and options.
func (p EncryptionPolicy) Equal(other EncryptionPolicy) bool {
	return p.Options == other.Options && bytes.Equal(p.Ref, other.Ref)
}

// descriptorV1 computes the v1 key descriptor, the first bytes of a double SHA-512.
func descriptorV1(key Key) []byte {
	first := sha512.Sum512(key)
	second := sha512.Sum512(first[:])

	return append([]byte(nil), second[:DescriptorSize]...)
}
