package version

import (
	"cmp"
	"fmt"
	"regexp"
	"strconv"
)

// DottedVersion is a "major.minor[.patch]" version. Patch is -1 when absent.
type DottedVersion struct {
	Major int
	Minor int
	Patch int
}

var dotted = regexp.MustCompile(`^([0-9]+)\.([0-9]+)(?:\.([0-9]+))?`)

func parse(s string, whole bool) (*DottedVersion, error) {
	m := dotted.FindStringSubmatch(s)
	if m == nil || (whole && len(m[0]) != len(s)) {
		return nil, fmt.Errorf("Invalid version format: %q", s)
	}

	v := &DottedVersion{Patch: -1}
	fields := []*int{&v.Major, &v.Minor, &v.Patch}
	for i, field := range m[1:] {
		if field == "" {
			continue
		}

		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("Invalid version format: %q: %w", s, err)
		}

		*fields[i] = n
	}

	return v, nil
}

// NewDottedVersion parses a string made only of a dotted version.
func NewDottedVersion(s string) (*DottedVersion, error) {
	return parse(s, true)
}

// Parse parses the dotted version a string starts with, such as the
// "5.10.43" of the "5.10.43-android12-9" kernel release.
func Parse(s string) (*DottedVersion, error) {
	return parse(s, false)
}

func (v *DottedVersion) String() string {
	if v.Patch < 0 {
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}

	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or +1 depending on whether v is lower, equal or higher than other.
func (v *DottedVersion) Compare(other *DottedVersion) int {
	return cmp.Or(
		cmp.Compare(v.Major, other.Major),
		cmp.Compare(v.Minor, other.Minor),
		cmp.Compare(v.Patch, other.Patch),
	)
}
