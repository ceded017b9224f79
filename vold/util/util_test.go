package util

import (
	"bytes"
	"errors"
	"testing"
	"testing/iotest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRandomBytes(t *testing.T) {
	a, err := ReadRandomBytes(nil, 64)
	require.NoError(t, err)
	assert.Len(t, a, 64)

	b, err := ReadRandomBytes(nil, 64)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestReadRandomBytesFailure(t *testing.T) {
	_, err := ReadRandomBytes(iotest.ErrReader(errors.New("no entropy")), 32)
	assert.ErrorIs(t, err, ErrEntropyUnavailable)

	// A short source is a failure too.
	_, err = ReadRandomBytes(bytes.NewReader(make([]byte, 16)), 32)
	assert.ErrorIs(t, err, ErrEntropyUnavailable)
}

func TestGenerateRandomUUID(t *testing.T) {
	s, err := GenerateRandomUUID(nil)
	require.NoError(t, err)

	id, err := uuid.Parse(s)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), id.Version())
	assert.Equal(t, uuid.RFC4122, id.Variant())

	_, err = GenerateRandomUUID(iotest.ErrReader(errors.New("no entropy")))
	assert.ErrorIs(t, err, ErrEntropyUnavailable)
}

func TestHexToStr(t *testing.T) {
	cases := map[string][]byte{
		"":            {},
		"00ff10":      {0x00, 0xff, 0x10},
		"00:FF:10":    {0x00, 0xff, 0x10},
		"de-ad be-ef": {0xde, 0xad, 0xbe, 0xef},
	}

	for in, expected := range cases {
		out, err := HexToStr(in)
		require.NoError(t, err, in)
		assert.Equal(t, expected, out, in)
	}

	for _, in := range []string{"abc", "zz", "0x10"} {
		_, err := HexToStr(in)
		assert.ErrorIs(t, err, ErrInvalidHex, in)
	}
}

func TestNormalizeHex(t *testing.T) {
	out, err := NormalizeHex("DE:AD:BE:EF")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", out)

	_, err = NormalizeHex("not hex")
	assert.Error(t, err)
}

func TestWipe(t *testing.T) {
	buf := []byte{1, 2, 3}
	Wipe(buf)
	assert.Equal(t, []byte{0, 0, 0}, buf)
}
