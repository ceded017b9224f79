//go:build linux

package sys

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/vold/shared"
	"github.com/canonical/vold/vold/volume"
)

func newTestOS(t *testing.T, opts Options) *OS {
	t.Helper()

	if opts.KillSettle == 0 {
		opts.KillSettle = 50 * time.Millisecond
	}

	o, err := New(opts)
	require.NoError(t, err)

	return o
}

func TestParseBlkid(t *testing.T) {
	out := `/dev/block/vold/public:8,17: LABEL="MY CARD" UUID="1234-ABCD" TYPE="vfat"` + "\n"

	assert.Equal(t, volume.Metadata{FsType: "vfat", FsUUID: "1234-ABCD", FsLabel: "MY CARD"}, parseBlkid(out))
	assert.Equal(t, volume.Metadata{}, parseBlkid(""))
}

func TestReadMetadataUntrusted(t *testing.T) {
	var gotLabel string
	var gotArgs []string

	o := newTestOS(t, Options{
		BlkidContext: "u:r:blkid_untrusted:s0",
		Run: func(ctx context.Context, label string, name string, args ...string) (string, error) {
			gotLabel = label
			gotArgs = append([]string{name}, args...)
			return `/dev/sda1: UUID="abcd" TYPE="exfat"`, nil
		},
	})

	metadata, err := o.ReadMetadataUntrusted(context.Background(), "/dev/sda1")
	require.NoError(t, err)
	assert.Equal(t, volume.Metadata{FsType: "exfat", FsUUID: "abcd"}, metadata)
	assert.Equal(t, "u:r:blkid_untrusted:s0", gotLabel)
	assert.Equal(t, []string{"/system/bin/blkid", "-c", "/dev/null", "-s", "TYPE", "-s", "UUID", "-s", "LABEL", "/dev/sda1"}, gotArgs)
}

func TestReadMetadataUntrustedFailure(t *testing.T) {
	o := newTestOS(t, Options{
		Run: func(ctx context.Context, label string, name string, args ...string) (string, error) {
			return shared.RunCommandContext(ctx, "sh", "-c", "exit 2")
		},
	})

	_, err := o.ReadMetadataUntrusted(context.Background(), "/dev/sda1")
	assert.Error(t, err)
}

func TestPrepareDir(t *testing.T) {
	o := newTestOS(t, Options{})
	dir := filepath.Join(t.TempDir(), "a", "b")
	uid := uint32(os.Getuid())
	gid := uint32(os.Getgid())

	require.NoError(t, o.PrepareDir(dir, 0700, uid, gid))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	// An existing directory gets its mode fixed.
	require.NoError(t, o.PrepareDir(dir, 0750, uid, gid))

	info, err = os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0750), info.Mode().Perm())

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0600))
	assert.Error(t, o.PrepareDir(file, 0700, uid, gid))

	link := filepath.Join(t.TempDir(), "link")
	require.NoError(t, os.Symlink(dir, link))
	assert.Error(t, o.PrepareDir(link, 0700, uid, gid))
}

func TestRemoveDir(t *testing.T) {
	o := newTestOS(t, Options{})
	dir := filepath.Join(t.TempDir(), "dir")
	require.NoError(t, os.Mkdir(dir, 0700))

	require.NoError(t, o.RemoveDir(dir))
	assert.False(t, shared.PathExists(dir))
	assert.NoError(t, o.RemoveDir(dir))

	require.NoError(t, os.Mkdir(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), nil, 0600))
	assert.Error(t, o.RemoveDir(dir))
}

func TestDestroyDeviceNodeMissing(t *testing.T) {
	o := newTestOS(t, Options{})
	assert.NoError(t, o.DestroyDeviceNode(filepath.Join(t.TempDir(), "missing")))
}

func TestPathAccessibleAndRename(t *testing.T) {
	o := newTestOS(t, Options{})
	root := t.TempDir()
	legacy := filepath.Join(root, "android_secure")
	secure := filepath.Join(root, ".android_secure")

	assert.False(t, o.PathAccessible(legacy))
	require.NoError(t, os.Mkdir(legacy, 0700))
	assert.True(t, o.PathAccessible(legacy))

	require.NoError(t, o.Rename(legacy, secure))
	assert.False(t, o.PathAccessible(legacy))
	assert.True(t, o.PathAccessible(secure))
}

func TestDeviceIDAndBDI(t *testing.T) {
	sysfs := t.TempDir()
	o := newTestOS(t, Options{SysfsDir: sysfs})
	dir := t.TempDir()

	dev, err := o.DeviceID(dir)
	require.NoError(t, err)

	bdi := filepath.Join(sysfs, "class", "bdi", fmt.Sprintf("%d:%d", shared.Major(dev), shared.Minor(dev)))
	require.NoError(t, os.MkdirAll(bdi, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(bdi, "read_ahead_kb"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(bdi, "max_ratio"), nil, 0644))

	require.NoError(t, o.SetFuseReadAhead(dir, 256))
	require.NoError(t, o.SetFuseMaxDirtyRatio(dir, 40))

	content, err := os.ReadFile(filepath.Join(bdi, "read_ahead_kb"))
	require.NoError(t, err)
	assert.Equal(t, "256", string(content))

	content, err = os.ReadFile(filepath.Join(bdi, "max_ratio"))
	require.NoError(t, err)
	assert.Equal(t, "40", string(content))

	_, err = o.DeviceID(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestFuseOptions(t *testing.T) {
	o := newTestOS(t, Options{FuseFSContext: "u:object_r:mnt_media_rw_file:s0"})

	assert.Equal(t, "fd=7,rootmode=40000,default_permissions,allow_other,user_id=0,group_id=0,fscontext=u:object_r:mnt_media_rw_file:s0", o.fuseOptions(7))
}

func TestForceUnmountNotMounted(t *testing.T) {
	o := newTestOS(t, Options{})

	assert.NoError(t, o.ForceUnmount(t.TempDir()))
	assert.NoError(t, o.LazyUnmount(filepath.Join(t.TempDir(), "missing")))
}

func TestKillProcessesUsingPath(t *testing.T) {
	o := newTestOS(t, Options{})
	dir := t.TempDir()

	cmd := exec.Command("sleep", "60")
	cmd.Dir = dir
	require.NoError(t, cmd.Start())

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	pids, err := o.processesUsingPath(dir)
	require.NoError(t, err)
	assert.Contains(t, pids, cmd.Process.Pid)

	require.NoError(t, o.KillProcessesUsingPath(dir))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Process using path was not killed")
	}

	pids, err = o.processesUsingPath(dir)
	require.NoError(t, err)
	assert.NotContains(t, pids, cmd.Process.Pid)
}

func TestKillProcessesUsingPathUnused(t *testing.T) {
	o := newTestOS(t, Options{})

	assert.NoError(t, o.KillProcessesUsingPath(t.TempDir()))
}

func TestUnder(t *testing.T) {
	assert.True(t, under("/mnt/a", "/mnt/a"))
	assert.True(t, under("/mnt/a/b", "/mnt/a"))
	assert.False(t, under("/mnt/ab", "/mnt/a"))
}

func TestStartHelper(t *testing.T) {
	o := newTestOS(t, Options{})

	helper, err := o.StartHelper(context.Background(), "sh", []string{"-c", "exit 3"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code, err := helper.Wait(ctx)
	assert.Error(t, err)
	assert.Equal(t, int64(3), code)

	helper, err = o.StartHelper(context.Background(), "sleep", []string{"60"})
	require.NoError(t, err)
	require.NoError(t, helper.Stop())
}
