package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// IsInRange returns a validator that checks an integer value lies within [min, max].
func IsInRange(min int64, max int64) func(value string) error {
	return func(value string) error {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("Invalid integer %q", value)
		}

		if n < min || n > max {
			return fmt.Errorf("Value must be between %d and %d", min, max)
		}

		return nil
	}
}

// Optional wraps validators so that an empty value is accepted.
func Optional(validators ...func(value string) error) func(value string) error {
	return func(value string) error {
		if value == "" {
			return nil
		}

		for _, validator := range validators {
			err := validator(value)
			if err != nil {
				return err
			}
		}

		return nil
	}
}

// IsAbsFilePath checks if value is an absolute file path.
func IsAbsFilePath(value string) error {
	if !filepath.IsAbs(value) {
		return fmt.Errorf("Must be absolute file path")
	}

	return nil
}

// IsSELinuxContext checks the value looks like a "user:role:type:level" SELinux context.
func IsSELinuxContext(value string) error {
	fields := strings.SplitN(value, ":", 4)
	if len(fields) < 4 {
		return fmt.Errorf("Invalid SELinux context %q", value)
	}

	for _, field := range fields {
		if field == "" {
			return fmt.Errorf("Invalid SELinux context %q", value)
		}
	}

	return nil
}
