package util

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// ErrEntropyUnavailable is returned when the random source can't provide enough bytes.
var ErrEntropyUnavailable = fmt.Errorf("Random source unavailable")

// ReadRandomBytes reads n bytes from r. A nil reader means the system CSPRNG.
func ReadRandomBytes(r io.Reader, n int) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}

	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	if err != nil {
		Wipe(buf)
		return nil, fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}

	return buf, nil
}

// GenerateRandomUUID returns a random (version 4) UUID read from r.
func GenerateRandomUUID(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}

	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}

	return id.String(), nil
}

// Wipe zeroes buf.
func Wipe(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
