package volume

import (
	"context"
	"fmt"
	"sync"

	"github.com/canonical/vold/shared/logger"
)

// kind is implemented by each volume type and plugged into Base.
type kind interface {
	doCreate(ctx context.Context) error
	doDestroy(ctx context.Context) error
	doMount(ctx context.Context) error
	doUnmount(ctx context.Context) error
	doFormat(ctx context.Context, fsType string) error
}

// Base is the lifecycle state machine shared by every volume kind.
type Base struct {
	kind kind

	id          string
	volType     Type
	mountFlags  MountFlags
	mountUserID int
	listener    Listener
	logger      logger.Logger

	// opLock serializes lifecycle operations.
	opLock sync.Mutex

	// mu guards the fields below.
	mu           sync.Mutex
	created      bool
	state        State
	path         string
	internalPath string
	metadata     Metadata
	warnings     []string
}

func newBase(k kind, id string, volType Type, flags MountFlags, userID int, listener Listener) *Base {
	l := logger.AddContext(logger.Ctx{"volume": id})

	if flags&MountVisibleForRead != 0 {
		l.Warn("Ignoring unsupported visible-for-read mount flag")
		flags &^= MountVisibleForRead
	}

	return &Base{
		kind:        k,
		id:          id,
		volType:     volType,
		mountFlags:  flags,
		mountUserID: userID,
		listener:    listener,
		logger:      l,
		state:       StateUnmounted,
	}
}

// ID returns the volume identifier.
func (b *Base) ID() string {
	return b.id
}

// Type returns the volume type.
func (b *Base) Type() Type {
	return b.volType
}

// MountFlags returns the effective mount flags.
func (b *Base) MountFlags() MountFlags {
	return b.mountFlags
}

// MountUserID returns the user the volume is mounted for.
func (b *Base) MountUserID() int {
	return b.mountUserID
}

func (b *Base) isPrimary() bool {
	return b.mountFlags&MountPrimary != 0
}

func (b *Base) isVisible() bool {
	return b.mountFlags&MountVisibleForWrite != 0
}

// State returns the current lifecycle state.
func (b *Base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Path returns the user-facing path, empty unless checking or mounted.
func (b *Base) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.path
}

// InternalPath returns the raw mount path, empty unless checking or mounted.
func (b *Base) InternalPath() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.internalPath
}

// Metadata returns the last probed filesystem metadata.
func (b *Base) Metadata() Metadata {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.metadata
}

// Warnings returns the non-fatal problems hit by the last mount.
func (b *Base) Warnings() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.warnings...)
}

func (b *Base) addWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	b.logger.Warn(msg)

	b.mu.Lock()
	b.warnings = append(b.warnings, msg)
	b.mu.Unlock()
}

func (b *Base) setState(state State) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()

	b.logger.Debug("Volume state changed", logger.Ctx{"state": state})

	if b.listener != nil {
		b.listener.VolumeStateChanged(b.id, state, b.mountUserID)
	}
}

func (b *Base) setMetadata(metadata Metadata) {
	b.mu.Lock()
	b.metadata = metadata
	b.mu.Unlock()

	if b.listener != nil {
		b.listener.VolumeMetadataChanged(b.id, metadata)
	}
}

// setPath is only allowed while checking.
func (b *Base) setPath(path string) error {
	b.mu.Lock()
	if b.state != StateChecking {
		b.mu.Unlock()
		return fmt.Errorf("Path change requires state checking: %w", ErrInvalidState)
	}

	b.path = path
	b.mu.Unlock()

	if b.listener != nil {
		b.listener.VolumePathChanged(b.id, path)
	}

	return nil
}

// setInternalPath is only allowed while checking.
func (b *Base) setInternalPath(path string) error {
	b.mu.Lock()
	if b.state != StateChecking {
		b.mu.Unlock()
		return fmt.Errorf("Internal path change requires state checking: %w", ErrInvalidState)
	}

	b.internalPath = path
	b.mu.Unlock()

	if b.listener != nil {
		b.listener.VolumeInternalPathChanged(b.id, path)
	}

	return nil
}

func (b *Base) clearPaths() {
	b.mu.Lock()
	hadPath := b.path != ""
	hadInternalPath := b.internalPath != ""
	b.path = ""
	b.internalPath = ""
	b.mu.Unlock()

	if b.listener == nil {
		return
	}

	if hadPath {
		b.listener.VolumePathChanged(b.id, "")
	}

	if hadInternalPath {
		b.listener.VolumeInternalPathChanged(b.id, "")
	}
}

// Create brings the volume into existence. It may only be called once.
func (b *Base) Create(ctx context.Context) error {
	b.opLock.Lock()
	defer b.opLock.Unlock()

	b.mu.Lock()
	if b.created || b.state == StateDestroyed {
		b.mu.Unlock()
		return fmt.Errorf("Volume %q already created: %w", b.id, ErrInvalidState)
	}

	b.mu.Unlock()

	err := b.kind.doCreate(ctx)
	if err != nil {
		return fmt.Errorf("Failed creating volume %q: %w", b.id, err)
	}

	b.mu.Lock()
	b.created = true
	b.mu.Unlock()

	if b.listener != nil {
		b.listener.VolumeCreated(b.id, b.volType, b.mountUserID)
	}

	b.setState(StateUnmounted)

	return nil
}

// Destroy tears the volume down. The volume must be created and unmounted.
func (b *Base) Destroy(ctx context.Context) error {
	b.opLock.Lock()
	defer b.opLock.Unlock()

	b.mu.Lock()
	if !b.created || b.state != StateUnmounted {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("Cannot destroy volume %q in state %s: %w", b.id, state, ErrInvalidState)
	}

	b.mu.Unlock()

	if b.listener != nil {
		b.listener.VolumeDestroyed(b.id)
	}

	err := b.kind.doDestroy(ctx)

	b.mu.Lock()
	b.created = false
	b.mu.Unlock()

	b.setState(StateDestroyed)

	if err != nil {
		return fmt.Errorf("Failed destroying volume %q: %w", b.id, err)
	}

	return nil
}

// Mount checks and mounts the volume. On failure everything set up so far is torn down and
// the volume returns to unmounted.
func (b *Base) Mount(ctx context.Context) error {
	b.opLock.Lock()
	defer b.opLock.Unlock()

	b.mu.Lock()
	if !b.created || b.state != StateUnmounted {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("Cannot mount volume %q in state %s: %w", b.id, state, ErrInvalidState)
	}

	b.warnings = nil
	b.mu.Unlock()

	b.setState(StateChecking)

	err := b.kind.doMount(ctx)
	if err != nil {
		b.logger.Error("Failed mounting volume", logger.Ctx{"err": err})

		unmountErr := b.kind.doUnmount(ctx)
		if unmountErr != nil {
			b.logger.Warn("Failed rolling back volume mount", logger.Ctx{"err": unmountErr})
		}

		b.clearPaths()
		b.setState(StateUnmounted)

		return fmt.Errorf("Failed mounting volume %q: %w", b.id, err)
	}

	b.setState(StateMounted)

	return nil
}

// Unmount unmounts the volume. Unmounting an unmounted volume does nothing.
func (b *Base) Unmount(ctx context.Context) error {
	b.opLock.Lock()
	defer b.opLock.Unlock()

	return b.unmount(ctx)
}

func (b *Base) unmount(ctx context.Context) error {
	state := b.State()
	if state == StateUnmounted {
		return nil
	}

	if state != StateMounted {
		return fmt.Errorf("Cannot unmount volume %q in state %s: %w", b.id, state, ErrInvalidState)
	}

	b.setState(StateUnmounting)

	err := b.kind.doUnmount(ctx)

	b.clearPaths()
	b.setState(StateUnmounted)

	if err != nil {
		return fmt.Errorf("Failed unmounting volume %q: %w", b.id, err)
	}

	return nil
}

// Format erases the volume and creates a fresh filesystem. A mounted volume is unmounted first.
func (b *Base) Format(ctx context.Context, fsType string) error {
	b.opLock.Lock()
	defer b.opLock.Unlock()

	if b.State() == StateMounted {
		err := b.unmount(ctx)
		if err != nil {
			b.logger.Warn("Failed unmounting volume before format", logger.Ctx{"err": err})
		}
	}

	b.mu.Lock()
	if !b.created || b.state != StateUnmounted {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("Cannot format volume %q in state %s: %w", b.id, state, ErrInvalidState)
	}

	b.mu.Unlock()

	b.setState(StateFormatting)

	err := b.kind.doFormat(ctx, fsType)

	b.setState(StateUnmounted)

	if err != nil {
		return fmt.Errorf("Failed formatting volume %q: %w", b.id, err)
	}

	return nil
}
