package storage

import (
	"crypto/sha512"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	stretchingNone    = "nopassword"
	stretchingArgon2  = "argon2id"
	wrappingKeyInfo   = "vold key wrapping"
	secdiscardableLen = 16 * 1024
	saltLen           = 16
)

// Argon2Params are the cost parameters used to stretch a secret.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB.
	Threads uint8
}

// DefaultArgon2Params is used for newly stored keys.
var DefaultArgon2Params = Argon2Params{Time: 3, Memory: 64 * 1024, Threads: 4}

// String returns the content of the stretching file.
func (p Argon2Params) String() string {
	return fmt.Sprintf("%s %d %d %d", stretchingArgon2, p.Time, p.Memory, p.Threads)
}

// parseStretching parses the stretching file. ok is false for "nopassword".
func parseStretching(value string) (params Argon2Params, ok bool, err error) {
	fields := strings.Fields(value)
	if len(fields) == 1 && fields[0] == stretchingNone {
		return params, false, nil
	}

	if len(fields) != 4 || fields[0] != stretchingArgon2 {
		return params, false, fmt.Errorf("Unknown stretching %q", value)
	}

	var values [3]uint64
	for i, field := range fields[1:] {
		bits := 32
		if i == 2 {
			bits = 8
		}

		values[i], err = strconv.ParseUint(field, 10, bits)
		if err != nil || values[i] == 0 {
			return params, false, fmt.Errorf("Invalid stretching %q", value)
		}
	}

	return Argon2Params{Time: uint32(values[0]), Memory: uint32(values[1]), Threads: uint8(values[2])}, true, nil
}

// wrappingKey derives the key encryption key from the stretched secret and the secdiscardable blob.
func wrappingKey(stretched []byte, secdiscardable []byte) ([]byte, error) {
	hash := sha512.Sum512(secdiscardable)

	kek := make([]byte, chacha20poly1305.KeySize)
	_, err := io.ReadFull(hkdf.New(sha512.New, stretched, hash[:], []byte(wrappingKeyInfo)), kek)
	if err != nil {
		return nil, fmt.Errorf("Failed deriving wrapping key: %w", err)
	}

	return kek, nil
}

func stretch(secret []byte, salt []byte, params Argon2Params) []byte {
	return argon2.IDKey(secret, salt, params.Time, params.Memory, params.Threads, 32)
}

// seal encrypts key under kek. The output is nonce || ciphertext.
func seal(kek []byte, nonce []byte, key []byte, additional []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, fmt.Errorf("Failed creating cipher: %w", err)
	}

	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("Nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}

	out := make([]byte, 0, len(nonce)+len(key)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, key, additional), nil
}

func open(kek []byte, blob []byte, additional []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(kek)
	if err != nil {
		return nil, fmt.Errorf("Failed creating cipher: %w", err)
	}

	if len(blob) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrAuthFailed
	}

	key, err := aead.Open(nil, blob[:aead.NonceSize()], blob[aead.NonceSize():], additional)
	if err != nil {
		return nil, ErrAuthFailed
	}

	return key, nil
}
