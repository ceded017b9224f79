//go:build linux

package keys

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/canonical/vold/shared/logger"
	"github.com/canonical/vold/shared/version"
	"github.com/canonical/vold/vold/util"
)

// Not part of upstream linux/fscrypt.h, carried by kernels supporting hardware-wrapped keys.
const addKeyFlagHardwareWrapped = 0x00000001

// fscrypt_add_key_arg, with the last reserved word holding the add key flags.
type addKeyArg struct {
	spec     unix.FscryptKeySpecifier
	rawSize  uint32
	keyID    uint32
	reserved [7]uint32
	flags    uint32
}

// LinuxKernel adds and removes keys with the FS_IOC_*_ENCRYPTION_KEY ioctls.
type LinuxKernel struct{}

// Probe checks that the running kernel has the key management ioctls (5.4 or later).
func (LinuxKernel) Probe() error {
	current, err := version.KernelVersion()
	if err != nil {
		return err
	}

	minimum, _ := version.NewDottedVersion("5.4")
	if current.Compare(minimum) < 0 {
		return fmt.Errorf("Kernel %s lacks filesystem key management (needs %s)", current, minimum)
	}

	return nil
}

func keySpecifier(policyVersion int, ref []byte) (unix.FscryptKeySpecifier, error) {
	spec := unix.FscryptKeySpecifier{}

	switch policyVersion {
	case 1:
		if len(ref) != DescriptorSize {
			return spec, fmt.Errorf("Invalid key descriptor length %d", len(ref))
		}

		spec.Type = unix.FSCRYPT_KEY_SPEC_TYPE_DESCRIPTOR
	case 2:
		if ref != nil && len(ref) != IdentifierSize {
			return spec, fmt.Errorf("Invalid key identifier length %d", len(ref))
		}

		spec.Type = unix.FSCRYPT_KEY_SPEC_TYPE_IDENTIFIER
	default:
		return spec, fmt.Errorf("Unsupported policy version %d", policyVersion)
	}

	copy(spec.U[:], ref)

	return spec, nil
}

func ioctl(mountpoint string, request uintptr, arg unsafe.Pointer) error {
	f, err := os.Open(mountpoint)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), request, uintptr(arg))
	if errno != 0 {
		return errno
	}

	return nil
}

// AddKey implements Kernel.
func (LinuxKernel) AddKey(mountpoint string, policyVersion int, ref []byte, key []byte, wrapped bool) ([]byte, error) {
	spec, err := keySpecifier(policyVersion, ref)
	if err != nil {
		return nil, err
	}

	headerSize := int(unsafe.Sizeof(addKeyArg{}))
	buf := make([]byte, headerSize+len(key))
	defer util.Wipe(buf)

	arg := (*addKeyArg)(unsafe.Pointer(&buf[0]))
	arg.spec = spec
	arg.rawSize = uint32(len(key))
	if wrapped {
		arg.flags = addKeyFlagHardwareWrapped
	}

	copy(buf[headerSize:], key)

	err = ioctl(mountpoint, unix.FS_IOC_ADD_ENCRYPTION_KEY, unsafe.Pointer(&buf[0]))
	if err != nil {
		return nil, fmt.Errorf("Failed adding key to %q: %w", mountpoint, err)
	}

	if policyVersion == 1 {
		return append([]byte(nil), ref...), nil
	}

	return append([]byte(nil), arg.spec.U[:IdentifierSize]...), nil
}

// RemoveKey implements Kernel.
func (LinuxKernel) RemoveKey(mountpoint string, policyVersion int, ref []byte) (bool, error) {
	spec, err := keySpecifier(policyVersion, ref)
	if err != nil {
		return false, err
	}

	arg := unix.FscryptRemoveKeyArg{Key_spec: spec}

	// v1 keys are added for all users.
	request := uintptr(unix.FS_IOC_REMOVE_ENCRYPTION_KEY)
	if policyVersion == 1 {
		request = unix.FS_IOC_REMOVE_ENCRYPTION_KEY_ALL_USERS
	}

	err = ioctl(mountpoint, request, unsafe.Pointer(&arg))
	if err != nil {
		return false, fmt.Errorf("Failed removing key from %q: %w", mountpoint, err)
	}

	if arg.Removal_status_flags&unix.FSCRYPT_KEY_REMOVAL_STATUS_FLAG_FILES_BUSY != 0 {
		logger.Debug("Files still open after key removal", logger.Ctx{"mountpoint": mountpoint})
		return true, nil
	}

	if arg.Removal_status_flags&unix.FSCRYPT_KEY_REMOVAL_STATUS_FLAG_OTHER_USERS != 0 {
		logger.Debug("Key still held by other users", logger.Ctx{"mountpoint": mountpoint})
		return true, nil
	}

	return false, nil
}
