package cmd

import (
	"strings"
)

// FormatSection renders content indented by two spaces under "header:".
// A section with a header ends with a blank line. Without a header only the
// indented content is returned.
func FormatSection(header string, content string) string {
	var b strings.Builder
	if header != "" {
		b.WriteString(header + ":\n")
	}

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if line != "" {
			b.WriteString("  " + line)
		}

		if header != "" || i < len(lines)-1 {
			b.WriteString("\n")
		}
	}

	if header != "" {
		b.WriteString("\n")
	}

	return b.String()
}
