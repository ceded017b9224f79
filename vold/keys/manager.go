package keys

import (
	"errors"
	"fmt"
	"io"

	"github.com/canonical/vold/shared/logger"
	"github.com/canonical/vold/vold/keys/storage"
	"github.com/canonical/vold/vold/util"
)

// Kernel installs and removes keys in the kernel filesystem encryption subsystem.
type Kernel interface {
	// AddKey installs key on the filesystem of mountpoint. For v1 policies ref is the
	// descriptor to register the key under; for v2 policies the kernel computes and returns it.
	AddKey(mountpoint string, version int, ref []byte, key []byte, wrapped bool) ([]byte, error)

	// RemoveKey removes a key. busy is set if files are still open or other users hold the key.
	RemoveKey(mountpoint string, version int, ref []byte) (busy bool, err error)
}

// Store keeps keys at rest.
type Store interface {
	Retrieve(dir string, auth storage.Authentication) ([]byte, error)
	StoreAtomically(dir string, tmpDir string, auth storage.Authentication, key []byte) error
}

// Manager generates, retrieves and installs encryption keys.
type Manager struct {
	kernel Kernel
	store  Store
	random io.Reader
}

// NewManager returns a Manager. A nil random reader uses crypto/rand.
func NewManager(kernel Kernel, store Store, random io.Reader) *Manager {
	return &Manager{kernel: kernel, store: store, random: random}
}

// Generate returns a new random key.
func (m *Manager) Generate(gen KeyGeneration) (Key, error) {
	if !gen.AllowGenerate {
		return nil, ErrGenerationDisallowed
	}

	if gen.KeySize <= 0 || gen.KeySize > MaxKeySize {
		return nil, fmt.Errorf("Invalid key size %d", gen.KeySize)
	}

	key, err := util.ReadRandomBytes(m.random, gen.KeySize)
	if err != nil {
		return nil, err
	}

	return key, nil
}

// RetrieveOrGenerate loads the key stored in dir, generating and storing a new one
// through tmpDir if dir holds no key and gen allows it.
func (m *Manager) RetrieveOrGenerate(dir string, tmpDir string, auth storage.Authentication, gen KeyGeneration) (Key, error) {
	key, err := m.retrieve(dir, auth)
	if err == nil || !errors.Is(err, storage.ErrNotFound) {
		return key, err
	}

	if !gen.AllowGenerate {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, dir)
	}

	logger.Info("Generating new key", logger.Ctx{"dir": dir})

	key, err = m.Generate(gen)
	if err != nil {
		return nil, err
	}

	err = m.store.StoreAtomically(dir, tmpDir, auth, key)
	if err != nil {
		key.Wipe()

		// Lost a race against another writer, use its key.
		if errors.Is(err, storage.ErrExists) {
			return m.retrieve(dir, auth)
		}

		return nil, fmt.Errorf("Failed storing key: %w", err)
	}

	return key, nil
}

func (m *Manager) retrieve(dir string, auth storage.Authentication) (Key, error) {
	raw, err := m.store.Retrieve(dir, auth)
	if err != nil {
		if errors.Is(err, storage.ErrAuthFailed) {
			return nil, fmt.Errorf("%w: %q", ErrAuthenticationFailed, dir)
		}

		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		return nil, fmt.Errorf("Failed retrieving key from %q: %w", dir, err)
	}

	return raw, nil
}

// Install adds key to the kernel for mountpoint and returns the policy referencing it.
func (m *Manager) Install(mountpoint string, options EncryptionOptions, key Key) (EncryptionPolicy, error) {
	policy := EncryptionPolicy{Options: options}

	var ref []byte
	switch options.Version {
	case 1:
		ref = descriptorV1(key)
	case 2:
	default:
		return policy, fmt.Errorf("%w: unsupported policy version %d", ErrInstallRejected, options.Version)
	}

	ref, err := m.kernel.AddKey(mountpoint, options.Version, ref, key, options.UseHardwareWrappedKey)
	if err != nil {
		return policy, fmt.Errorf("%w: %v", ErrInstallRejected, err)
	}

	policy.Ref = ref

	logger.Debug("Installed encryption key", logger.Ctx{"mountpoint": mountpoint, "policy": policy.Reference(), "version": options.Version})

	return policy, nil
}

// Evict removes the key of policy from the kernel. It returns false if the key was
// already absent or is still in use, in which case it may stay usable for open files.
func (m *Manager) Evict(mountpoint string, policy EncryptionPolicy) bool {
	busy, err := m.kernel.RemoveKey(mountpoint, policy.Options.Version, policy.Ref)
	if err != nil {
		logger.Warn("Failed evicting encryption key", logger.Ctx{"mountpoint": mountpoint, "policy": policy.Reference(), "err": err})
		return false
	}

	if busy {
		logger.Warn("Encryption key still in use", logger.Ctx{"mountpoint": mountpoint, "policy": policy.Reference()})
		return false
	}

	logger.Debug("Evicted encryption key", logger.Ctx{"mountpoint": mountpoint, "policy": policy.Reference()})

	return true
}
