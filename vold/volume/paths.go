package volume

import (
	"fmt"
	"path/filepath"
)

// Well-known user and group ids.
const (
	AIDRoot            = 0
	AIDMediaRW         = 1023
	AIDExternalStorage = 1077
	AIDEverybody       = 9997
)

// Paths builds the well-known paths volumes are exposed under.
type Paths struct {
	// Root is prepended to every path.
	Root string
}

func (p Paths) join(format string, args ...any) string {
	return filepath.Join(p.Root, fmt.Sprintf(format, args...))
}

// DeviceNode is the block device node of a public volume.
func (p Paths) DeviceNode(major uint32, minor uint32) string {
	return p.join("/dev/block/vold/public:%d,%d", major, minor)
}

// Raw is where the filesystem itself is mounted.
func (p Paths) Raw(stableName string) string {
	return p.join("/mnt/media_rw/%s", stableName)
}

// Runtime is one of the default, read, write and full permission views.
func (p Paths) Runtime(view string, stableName string) string {
	return p.join("/mnt/runtime/%s/%s", view, stableName)
}

// Storage is the path apps see the volume under.
func (p Paths) Storage(stableName string) string {
	return p.join("/storage/%s", stableName)
}

// Asec is where legacy secure containers are staged.
func (p Paths) Asec() string {
	return p.join("/mnt/secure/asec")
}

// User holds the FUSE views of a user.
func (p Paths) User(userID int) string {
	return p.join("/mnt/user/%d", userID)
}

// UserFuse is the FUSE view of a volume for a user.
func (p Paths) UserFuse(userID int, stableName string) string {
	return filepath.Join(p.User(userID), stableName)
}

// PassThrough is the direct view of the lower filesystem for a user's file server.
func (p Paths) PassThrough(userID int, stableName string) string {
	return p.join("/mnt/pass_through/%d/%s", userID, stableName)
}
