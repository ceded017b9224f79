package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// DefaultPath is where the daemon looks for its configuration file.
const DefaultPath = "/etc/vold/vold.yaml"

// User is a user session started at boot.
type User struct {
	ID int `yaml:"id"`

	// SharedStorage is the user this one shares external storage with. Unset means none.
	SharedStorage *int `yaml:"shared_storage,omitempty"`
}

// Volume is a public volume to create at boot.
type Volume struct {
	Device string   `yaml:"device"`
	Flags  []string `yaml:"flags,omitempty"`
	User   int      `yaml:"user"`
}

// MajorMinor parses the "major:minor" device of the volume.
func (v Volume) MajorMinor() (uint32, uint32, error) {
	return ParseMajorMinor(v.Device)
}

// File is the on-disk daemon configuration.
type File struct {
	Config  map[string]string `yaml:"config"`
	Users   []User            `yaml:"users"`
	Volumes []Volume          `yaml:"volumes"`
}

// Parse decodes and validates a daemon configuration file content.
func Parse(content []byte) (*File, *Daemon, error) {
	f := File{}

	err := yaml.UnmarshalStrict(content, &f)
	if err != nil {
		return nil, nil, fmt.Errorf("Failed parsing configuration: %w", err)
	}

	d, err := NewDaemon(f.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("Invalid configuration: %w", err)
	}

	seen := map[int]bool{}
	for _, u := range f.Users {
		if u.ID < 0 {
			return nil, nil, fmt.Errorf("Invalid user id %d", u.ID)
		}

		if seen[u.ID] {
			return nil, nil, fmt.Errorf("Duplicate user id %d", u.ID)
		}

		seen[u.ID] = true
	}

	for _, v := range f.Volumes {
		_, _, err := v.MajorMinor()
		if err != nil {
			return nil, nil, err
		}
	}

	return &f, d, nil
}

// LoadFile reads the daemon configuration at path. A missing file yields the defaults.
func LoadFile(path string) (*File, *Daemon, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Parse(nil)
		}

		return nil, nil, fmt.Errorf("Failed reading configuration file %q: %w", path, err)
	}

	return Parse(content)
}

// ParseMajorMinor parses a "major:minor" device number pair.
func ParseMajorMinor(value string) (uint32, uint32, error) {
	fields := strings.Split(value, ":")
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("Invalid device %q (expected major:minor)", value)
	}

	major, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("Invalid device major %q: %w", fields[0], err)
	}

	minor, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("Invalid device minor %q: %w", fields[1], err)
	}

	return uint32(major), uint32(minor), nil
}
