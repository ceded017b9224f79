package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is the type of the value held by a configuration key.
type Type int

// Value types of configuration keys.
const (
	String Type = iota
	Bool
	Int64
)

// String returns the name of the type.
func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Bool:
		return "bool"
	case Int64:
		return "int64"
	}

	return fmt.Sprintf("type(%d)", int(t))
}

// Key describes one configuration key.
type Key struct {
	Type    Type   // Defaults to String.
	Default string // Value used while the key is unset.

	// Validator is called with the normalized value, or with Default when unsetting.
	Validator func(string) error
}

// normalize checks value against the key and returns its canonical form.
// Booleans become "true" or "false" and integers lose leading zeroes and signs.
// An empty value stands for the default and is returned as is.
func (k Key) normalize(value string) (string, error) {
	if value == "" {
		if k.Validator != nil {
			err := k.Validator(k.Default)
			if err != nil {
				return "", err
			}
		}

		return "", nil
	}

	switch k.Type {
	case String:
	case Bool:
		b, ok := parseBool(value)
		if !ok {
			return "", fmt.Errorf("invalid boolean")
		}

		value = strconv.FormatBool(b)
	case Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid integer")
		}

		value = strconv.FormatInt(n, 10)
	default:
		return "", fmt.Errorf("unsupported key type %s", k.Type)
	}

	if k.Validator != nil {
		err := k.Validator(value)
		if err != nil {
			return "", err
		}
	}

	return value, nil
}

func parseBool(value string) (bool, bool) {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	}

	return false, false
}

// Schema maps key names to their definition.
type Schema map[string]Key

// lookup returns the named key, panicking if it is missing or of another type.
func (s Schema) lookup(name string, t Type) Key {
	key, ok := s[name]
	if !ok {
		panic(fmt.Sprintf("unknown config key %q", name))
	}

	if key.Type != t {
		panic(fmt.Sprintf("config key %q is a %s, not a %s", name, key.Type, t))
	}

	return key
}
