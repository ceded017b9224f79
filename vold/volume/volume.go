// Package volume drives storage volumes through their mount lifecycle.
//
// Every volume kind shares the Base state machine and plugs its own create, destroy,
// mount, unmount and format steps into it.
package volume

import (
	"context"
	"fmt"
	"os"
)

// Errors returned by volume operations.
var (
	ErrInvalidState          = fmt.Errorf("Operation not allowed in current volume state")
	ErrUnsupportedFilesystem = fmt.Errorf("Unsupported filesystem")
	ErrCheckFailed           = fmt.Errorf("Filesystem check failed")
	ErrHelperStartupTimeout  = fmt.Errorf("Timed out waiting for helper to start")
	ErrFuseNotReady          = fmt.Errorf("FUSE mount not ready")
	ErrDeviceIO              = fmt.Errorf("Device I/O error")
	ErrResourceBusy          = fmt.Errorf("Resource busy")
)

// State is the lifecycle state of a volume.
type State int

// Volume states.
const (
	StateUnmounted State = iota
	StateChecking
	StateMounted
	StateUnmounting
	StateFormatting
	StateDestroyed
)

var stateNames = map[State]string{
	StateUnmounted:  "unmounted",
	StateChecking:   "checking",
	StateMounted:    "mounted",
	StateUnmounting: "unmounting",
	StateFormatting: "formatting",
	StateDestroyed:  "destroyed",
}

func (s State) String() string {
	name, ok := stateNames[s]
	if !ok {
		return fmt.Sprintf("state(%d)", int(s))
	}

	return name
}

// Type is the kind of a volume.
type Type string

// Volume types.
const (
	TypePublic   Type = "public"
	TypePrivate  Type = "private"
	TypeEmulated Type = "emulated"
	TypeStub     Type = "stub"
)

// MountFlags control how a volume is exposed.
type MountFlags int

// Mount flags.
const (
	// MountPrimary marks the primary external storage.
	MountPrimary MountFlags = 1 << 0

	// MountVisibleForRead is no longer supported and is ignored.
	MountVisibleForRead MountFlags = 1 << 1

	// MountVisibleForWrite exposes the volume to apps.
	MountVisibleForWrite MountFlags = 1 << 2
)

var mountFlagNames = map[string]MountFlags{
	"primary":           MountPrimary,
	"visible_for_read":  MountVisibleForRead,
	"visible_for_write": MountVisibleForWrite,
}

// ParseMountFlags converts flag names into MountFlags.
func ParseMountFlags(names []string) (MountFlags, error) {
	var flags MountFlags
	for _, name := range names {
		flag, ok := mountFlagNames[name]
		if !ok {
			return 0, fmt.Errorf("Unknown mount flag %q", name)
		}

		flags |= flag
	}

	return flags, nil
}

// Metadata describes the filesystem found on a volume.
type Metadata struct {
	FsType  string
	FsUUID  string
	FsLabel string
}

// Listener is notified of volume changes. Calls are informational only.
type Listener interface {
	VolumeCreated(id string, volType Type, userID int)
	VolumeStateChanged(id string, state State, userID int)
	VolumeMetadataChanged(id string, metadata Metadata)
	VolumePathChanged(id string, path string)
	VolumeInternalPathChanged(id string, path string)
	VolumeDestroyed(id string)
}

// MountCallback is asked whether a freshly mounted FUSE view may be used.
// It takes ownership of fuse.
type MountCallback func(fuse *os.File, path string, internalPath string) bool

// Users answers questions about user sessions.
type Users interface {
	StartedUsers() []int
	SharedStorageUser(userID int) int
}

// Helper is a supervised helper process.
type Helper interface {
	Wait(ctx context.Context) (int64, error)
	Stop() error
}

// OS is the set of system primitives volumes are built on.
type OS interface {
	CreateDeviceNode(path string, major uint32, minor uint32) error
	DestroyDeviceNode(path string) error
	ReadMetadataUntrusted(ctx context.Context, devPath string) (Metadata, error)

	PrepareDir(path string, mode os.FileMode, uid uint32, gid uint32) error
	RemoveDir(path string) error
	PathAccessible(path string) bool
	Rename(oldPath string, newPath string) error

	BindMount(source string, target string) error
	ForceUnmount(path string) error
	LazyUnmount(path string) error
	DeviceID(path string) (uint64, error)
	KillProcessesUsingPath(path string) error

	MountFuse(fusePath string, passThroughPath string, lowerPath string) (*os.File, error)
	UnmountFuse(fusePath string, passThroughPath string) error
	SetFuseReadAhead(fusePath string, kb int64) error
	SetFuseMaxDirtyRatio(fusePath string, ratio int64) error

	BlockDeviceSize(devPath string) (uint64, error)
	WipeBlockDevice(ctx context.Context, devPath string) error

	StartHelper(ctx context.Context, name string, args []string) (Helper, error)
}

// Volume is the interface shared by every volume kind.
type Volume interface {
	ID() string
	Type() Type
	State() State
	MountFlags() MountFlags
	MountUserID() int
	Path() string
	InternalPath() string
	Metadata() Metadata
	Warnings() []string

	Create(ctx context.Context) error
	Destroy(ctx context.Context) error
	Mount(ctx context.Context) error
	Unmount(ctx context.Context) error
	Format(ctx context.Context, fsType string) error
}
