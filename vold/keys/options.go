package keys

import (
	"fmt"
	"strings"
)

// Encryption modes (linux/fscrypt.h).
const (
	ModeAES256XTS   = 1
	ModeAES256CTS   = 4
	ModeAdiantum    = 9
	ModeAES256HCTR2 = 10
)

// Policy flags (linux/fscrypt.h).
const (
	PolicyFlagsPad16      = 0x02
	PolicyFlagDirectKey   = 0x04
	PolicyFlagIVInoLblk64 = 0x08
	PolicyFlagIVInoLblk32 = 0x10
)

var contentsModes = map[string]uint8{
	"aes-256-xts": ModeAES256XTS,
	"adiantum":    ModeAdiantum,
}

var filenamesModes = map[string]uint8{
	"aes-256-cts":   ModeAES256CTS,
	"aes-256-hctr2": ModeAES256HCTR2,
	"adiantum":      ModeAdiantum,
}

// EncryptionOptions are the parameters of an encryption policy.
type EncryptionOptions struct {
	Version               int
	ContentsMode          uint8
	FilenamesMode         uint8
	Flags                 uint8
	UseHardwareWrappedKey bool
}

// ParseOptions parses "contents[:filenames[:flags]]" where flags is a "+" separated list
// of "v1", "v2", "inlinecrypt_optimized", "emmc_optimized" and "wrappedkey_v0".
func ParseOptions(value string) (EncryptionOptions, error) {
	options := EncryptionOptions{Version: 2, Flags: PolicyFlagsPad16}

	parts := strings.Split(value, ":")
	if len(parts) < 1 || len(parts) > 3 || parts[0] == "" {
		return options, fmt.Errorf("%w %q", ErrInvalidOptions, value)
	}

	mode, ok := contentsModes[parts[0]]
	if !ok {
		return options, fmt.Errorf("%w: unknown contents mode %q", ErrInvalidOptions, parts[0])
	}

	options.ContentsMode = mode

	filenames := "aes-256-cts"
	if mode == ModeAdiantum {
		filenames = "adiantum"
	}

	if len(parts) >= 2 && parts[1] != "" {
		filenames = parts[1]
	}

	mode, ok = filenamesModes[filenames]
	if !ok {
		return options, fmt.Errorf("%w: unknown filenames mode %q", ErrInvalidOptions, filenames)
	}

	options.FilenamesMode = mode

	if len(parts) == 3 {
		for _, flag := range strings.Split(parts[2], "+") {
			switch flag {
			case "v1":
				options.Version = 1
			case "v2":
				options.Version = 2
			case "inlinecrypt_optimized":
				options.Flags |= PolicyFlagIVInoLblk64
			case "emmc_optimized":
				options.Flags |= PolicyFlagIVInoLblk32
			case "wrappedkey_v0":
				options.UseHardwareWrappedKey = true
			default:
				return options, fmt.Errorf("%w: unknown flag %q", ErrInvalidOptions, flag)
			}
		}
	}

	if options.FilenamesMode == ModeAdiantum {
		options.Flags |= PolicyFlagDirectKey
	}

	err := options.validate()
	if err != nil {
		return options, err
	}

	return options, nil
}

func (o EncryptionOptions) validate() error {
	if o.Flags&PolicyFlagIVInoLblk64 != 0 && o.Flags&PolicyFlagIVInoLblk32 != 0 {
		return fmt.Errorf("%w: inlinecrypt_optimized and emmc_optimized are exclusive", ErrInvalidOptions)
	}

	if o.Version == 1 && o.Flags&(PolicyFlagIVInoLblk64|PolicyFlagIVInoLblk32) != 0 {
		return fmt.Errorf("%w: inline crypto optimizations need v2 policies", ErrInvalidOptions)
	}

	if (o.ContentsMode == ModeAdiantum) != (o.FilenamesMode == ModeAdiantum) {
		return fmt.Errorf("%w: adiantum must be used for both contents and filenames", ErrInvalidOptions)
	}

	return nil
}

// String formats the options the way ParseOptions accepts them.
func (o EncryptionOptions) String() string {
	name := func(modes map[string]uint8, mode uint8) string {
		for k, v := range modes {
			if v == mode {
				return k
			}
		}

		return fmt.Sprintf("mode-%d", mode)
	}

	flags := []string{fmt.Sprintf("v%d", o.Version)}
	if o.Flags&PolicyFlagIVInoLblk64 != 0 {
		flags = append(flags, "inlinecrypt_optimized")
	}

	if o.Flags&PolicyFlagIVInoLblk32 != 0 {
		flags = append(flags, "emmc_optimized")
	}

	if o.UseHardwareWrappedKey {
		flags = append(flags, "wrappedkey_v0")
	}

	return name(contentsModes, o.ContentsMode) + ":" + name(filenamesModes, o.FilenamesMode) + ":" + strings.Join(flags, "+")
}
