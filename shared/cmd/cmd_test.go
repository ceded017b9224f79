package cmd

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAsker(input string) *Asker {
	return &Asker{reader: bufio.NewReader(strings.NewReader(input)), out: io.Discard}
}

func TestAskBool(t *testing.T) {
	cases := []struct {
		input    string
		def      string
		expected bool
	}{
		{"yes\n", "no", true},
		{"Y\n", "no", true},
		{"n\n", "yes", false},
		{"\n", "yes", true},
		{"maybe\nno\n", "yes", false},
	}

	for _, c := range cases {
		a := newTestAsker(c.input)
		result, err := a.AskBool("Continue? ", c.def)
		require.NoError(t, err, c.input)
		assert.Equal(t, c.expected, result, c.input)
	}
}

func TestAskBoolEOF(t *testing.T) {
	a := newTestAsker("")
	_, err := a.AskBool("Continue? ", "no")
	assert.ErrorIs(t, err, io.EOF)
}

func TestAskBoolNoTrailingNewline(t *testing.T) {
	a := newTestAsker("yes")
	result, err := a.AskBool("Continue? ", "no")
	require.NoError(t, err)
	assert.True(t, result)
}

func TestFormatSection(t *testing.T) {
	out := FormatSection("Paths", "raw: /mnt/media_rw/1234-ABCD\nfull: /mnt/runtime/full/1234-ABCD")
	assert.Equal(t, "Paths:\n  raw: /mnt/media_rw/1234-ABCD\n  full: /mnt/runtime/full/1234-ABCD\n\n", out)

	out = FormatSection("", "a\nb")
	assert.Equal(t, "  a\n  b", out)
}
