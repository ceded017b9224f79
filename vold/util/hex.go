package util

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ErrInvalidHex is returned when decoding a malformed hex string.
var ErrInvalidHex = fmt.Errorf("Invalid hex string")

// Spaces, colons and dashes are accepted between digits.
var hexSeparators = strings.NewReplacer(" ", "", ":", "", "-", "")

// HexToStr decodes a hex string into raw bytes.
func HexToStr(in string) ([]byte, error) {
	digits := hexSeparators.Replace(in)

	out, err := hex.DecodeString(digits)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidHex, in, err)
	}

	return out, nil
}

// StrToHex encodes raw bytes as lowercase hex.
func StrToHex(in []byte) string {
	return hex.EncodeToString(in)
}

// NormalizeHex re-encodes a hex string in canonical lowercase form without separators.
func NormalizeHex(in string) (string, error) {
	raw, err := HexToStr(in)
	if err != nil {
		return "", err
	}

	return StrToHex(raw), nil
}
