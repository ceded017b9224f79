package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/vold/vold/config"
)

const sample = `
config:
  storage.sdcardfs: "true"
  storage.fuse.read_ahead_kb: "512"
  storage.helper.timeout: "3"
  storage.root: /tmp/vold
users:
  - id: 0
  - id: 10
    shared_storage: 0
volumes:
  - device: "179:65"
    flags: [primary, visible_for_write]
    user: 0
`

func TestParse(t *testing.T) {
	f, d, err := config.Parse([]byte(sample))
	require.NoError(t, err)

	assert.True(t, d.SDCardFS())
	assert.Equal(t, "/system/bin/sdcardfs", d.SDCardFSPath())
	assert.Equal(t, int64(512), d.FuseReadAheadKB())
	assert.Equal(t, int64(40), d.FuseMaxDirtyRatio())
	assert.Equal(t, 3*time.Second, d.HelperTimeout())
	assert.Equal(t, "/tmp/vold/data/misc/vold/user_keys", d.KeysDir())
	assert.Equal(t, "u:r:fsck_untrusted:s0", d.FsckContext())

	require.Len(t, f.Users, 2)
	assert.Nil(t, f.Users[0].SharedStorage)
	require.NotNil(t, f.Users[1].SharedStorage)
	assert.Equal(t, 0, *f.Users[1].SharedStorage)

	require.Len(t, f.Volumes, 1)
	major, minor, err := f.Volumes[0].MajorMinor()
	require.NoError(t, err)
	assert.Equal(t, uint32(179), major)
	assert.Equal(t, uint32(65), minor)
	assert.Equal(t, []string{"primary", "visible_for_write"}, f.Volumes[0].Flags)

	assert.Equal(t, map[string]string{
		"storage.sdcardfs":           "true",
		"storage.fuse.read_ahead_kb": "512",
		"storage.helper.timeout":     "3",
		"storage.root":               "/tmp/vold",
	}, d.Dump())
}

func TestDaemonSet(t *testing.T) {
	_, d, err := config.Parse([]byte(sample))
	require.NoError(t, err)

	err = d.Set([]string{"storage.sdcardfs=off", "storage.fuse.server=/system/bin/fuse", "storage.root="})
	require.NoError(t, err)
	assert.False(t, d.SDCardFS())
	assert.Equal(t, "/system/bin/fuse", d.FuseServer())
	assert.Equal(t, "", d.Root())

	// A failing override leaves every value untouched.
	err = d.Set([]string{"storage.helper.timeout=9", "storage.fuse.read_ahead_kb=fast"})
	assert.Error(t, err)
	assert.Equal(t, 3*time.Second, d.HelperTimeout())

	assert.Error(t, d.Set([]string{"storage.sdcardfs"}))
	assert.Error(t, d.Set([]string{"=true"}))
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"unknown key":       "config:\n  storage.nope: x\n",
		"bad ratio":         "config:\n  storage.fuse.max_dirty_ratio: \"101\"\n",
		"relative server":   "config:\n  storage.fuse.server: fuse\n",
		"unknown section":   "disks: []\n",
		"duplicate user":    "users:\n  - id: 0\n  - id: 0\n",
		"bad device":        "volumes:\n  - device: \"sda\"\n",
		"negative user":     "users:\n  - id: -1\n",
		"bad selinux label": "config:\n  selinux.fuse_context: fuse\n",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := config.Parse([]byte(content))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	f, d, err := config.LoadFile(filepath.Join(t.TempDir(), "vold.yaml"))
	require.NoError(t, err)
	assert.Empty(t, f.Volumes)
	assert.False(t, d.SDCardFS())
	assert.Equal(t, 5*time.Second, d.HelperTimeout())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vold.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0600))

	f, _, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Users, 2)
}

func TestParseMajorMinor(t *testing.T) {
	major, minor, err := config.ParseMajorMinor("8:16")
	require.NoError(t, err)
	assert.Equal(t, uint32(8), major)
	assert.Equal(t, uint32(16), minor)

	for _, value := range []string{"8", "8:x", "x:16", "8:16:1", ""} {
		_, _, err := config.ParseMajorMinor(value)
		assert.Error(t, err, value)
	}
}
