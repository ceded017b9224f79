package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// DaemonSchema is the set of keys accepted in the "config" section of the daemon file.
var DaemonSchema = Schema{
	// Run the legacy sdcardfs permission-translation daemon on top of visible public volumes.
	"storage.sdcardfs":      {Type: Bool, Default: "false"},
	"storage.sdcardfs.path": {Default: "/system/bin/sdcardfs", Validator: IsAbsFilePath},

	"storage.fuse.read_ahead_kb":   {Type: Int64, Default: "256", Validator: IsInRange(0, 1<<20)},
	"storage.fuse.max_dirty_ratio": {Type: Int64, Default: "40", Validator: IsInRange(0, 100)},
	"storage.fuse.server":          {Validator: Optional(IsAbsFilePath)},

	// Seconds to wait for a helper daemon to expose its mounts.
	"storage.helper.timeout": {Type: Int64, Default: "5", Validator: IsInRange(1, 300)},

	// Prefix prepended to every well-known mount path. Used for development chroots.
	"storage.root": {Validator: Optional(IsAbsFilePath)},

	"selinux.blkid_untrusted_context": {Default: "u:r:blkid_untrusted:s0", Validator: Optional(IsSELinuxContext)},
	"selinux.fsck_untrusted_context":  {Default: "u:r:fsck_untrusted:s0", Validator: Optional(IsSELinuxContext)},
	"selinux.fuse_context":            {Validator: Optional(IsSELinuxContext)},
	"selinux.fuse_fscontext":          {Validator: Optional(IsSELinuxContext)},

	"keys.dir": {Default: "/data/misc/vold/user_keys", Validator: IsAbsFilePath},
}

// Daemon holds the validated daemon configuration.
type Daemon struct {
	m Map
}

// NewDaemon validates values against DaemonSchema.
func NewDaemon(values map[string]string) (*Daemon, error) {
	m, err := Load(DaemonSchema, values)
	if err != nil {
		return nil, err
	}

	return &Daemon{m: m}, nil
}

// Set applies "key=value" overrides on top of the loaded values.
func (d *Daemon) Set(overrides []string) error {
	changes := make(map[string]string, len(overrides))
	for _, entry := range overrides {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || name == "" {
			return fmt.Errorf("Invalid override %q (expected key=value)", entry)
		}

		changes[name] = value
	}

	_, err := d.m.Change(changes)
	return err
}

// Dump returns the keys that differ from their default.
func (d *Daemon) Dump() map[string]string {
	return d.m.Dump()
}

// SDCardFS returns whether the sdcardfs helper is used.
func (d *Daemon) SDCardFS() bool {
	return d.m.GetBool("storage.sdcardfs")
}

// SDCardFSPath returns the path of the sdcardfs binary.
func (d *Daemon) SDCardFSPath() string {
	return d.m.GetString("storage.sdcardfs.path")
}

// FuseReadAheadKB returns the read-ahead to apply to FUSE mounts.
func (d *Daemon) FuseReadAheadKB() int64 {
	return d.m.GetInt64("storage.fuse.read_ahead_kb")
}

// FuseMaxDirtyRatio returns the dirty page ratio to apply to FUSE mounts.
func (d *Daemon) FuseMaxDirtyRatio() int64 {
	return d.m.GetInt64("storage.fuse.max_dirty_ratio")
}

// FuseServer returns the path of the user-space file server, if any.
func (d *Daemon) FuseServer() string {
	return d.m.GetString("storage.fuse.server")
}

// HelperTimeout returns how long helper daemons are given to become ready.
func (d *Daemon) HelperTimeout() time.Duration {
	return time.Duration(d.m.GetInt64("storage.helper.timeout")) * time.Second
}

// Root returns the path prefix of all well-known mount paths.
func (d *Daemon) Root() string {
	return d.m.GetString("storage.root")
}

// BlkidContext returns the SELinux context for untrusted metadata probes.
func (d *Daemon) BlkidContext() string {
	return d.m.GetString("selinux.blkid_untrusted_context")
}

// FsckContext returns the SELinux context for untrusted filesystem checks.
func (d *Daemon) FsckContext() string {
	return d.m.GetString("selinux.fsck_untrusted_context")
}

// FuseContext returns the SELinux "context=" mount option for FUSE views.
func (d *Daemon) FuseContext() string {
	return d.m.GetString("selinux.fuse_context")
}

// FuseFSContext returns the SELinux "fscontext=" mount option for FUSE views.
func (d *Daemon) FuseFSContext() string {
	return d.m.GetString("selinux.fuse_fscontext")
}

// KeysDir returns the directory holding per-user key directories.
func (d *Daemon) KeysDir() string {
	return filepath.Join(d.Root(), d.m.GetString("keys.dir"))
}
