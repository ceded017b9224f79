// Package storage keeps encryption keys at rest.
//
// Each key lives in its own directory:
//
//	version         layout version, "1"
//	stretching      "nopassword" or "argon2id <time> <memory> <threads>"
//	salt            argon2id salt, only when a secret is used
//	secdiscardable  random blob hashed into the wrapping key, destroyed to erase the key
//	encrypted_key   nonce followed by the XChaCha20-Poly1305 sealed key
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"

	"github.com/canonical/vold/shared"
	"github.com/canonical/vold/shared/logger"
	"github.com/canonical/vold/shared/revert"
	"github.com/canonical/vold/vold/util"
)

const (
	layoutVersion = "1"

	fileVersion        = "version"
	fileStretching     = "stretching"
	fileSalt           = "salt"
	fileSecdiscardable = "secdiscardable"
	fileEncryptedKey   = "encrypted_key"
)

// Authentication unlocks a stored key. A nil Secret means the key is unlocked by default.
type Authentication struct {
	Secret []byte
}

// NoAuthentication returns the authentication of keys stored without a secret.
func NoAuthentication() Authentication {
	return Authentication{}
}

// Store reads and writes key directories.
type Store struct {
	// Random is the source for salts, nonces and secdiscardable blobs. Defaults to crypto/rand.
	Random io.Reader

	// Argon2 is the cost used for keys stored with a secret.
	Argon2 Argon2Params
}

// New returns a Store using the system random source.
func New() *Store {
	return &Store{Argon2: DefaultArgon2Params}
}

// Retrieve loads and unwraps the key stored in dir.
func (s *Store) Retrieve(dir string, auth Authentication) ([]byte, error) {
	version, err := os.ReadFile(filepath.Join(dir, fileVersion))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("Failed reading key version: %w", err)
	}

	if string(bytes.TrimSpace(version)) != layoutVersion {
		return nil, fmt.Errorf("Unsupported key layout version %q", bytes.TrimSpace(version))
	}

	stretching, err := os.ReadFile(filepath.Join(dir, fileStretching))
	if err != nil {
		return nil, fmt.Errorf("Failed reading key stretching: %w", err)
	}

	params, hasSecret, err := parseStretching(string(bytes.TrimSpace(stretching)))
	if err != nil {
		return nil, err
	}

	if hasSecret != (auth.Secret != nil) {
		return nil, ErrAuthFailed
	}

	var stretched []byte
	if hasSecret {
		salt, err := os.ReadFile(filepath.Join(dir, fileSalt))
		if err != nil {
			return nil, fmt.Errorf("Failed reading key salt: %w", err)
		}

		stretched = stretch(auth.Secret, salt, params)
		defer util.Wipe(stretched)
	}

	secdiscardable, err := os.ReadFile(filepath.Join(dir, fileSecdiscardable))
	if err != nil {
		return nil, fmt.Errorf("Failed reading key secdiscardable: %w", err)
	}

	blob, err := os.ReadFile(filepath.Join(dir, fileEncryptedKey))
	if err != nil {
		return nil, fmt.Errorf("Failed reading encrypted key: %w", err)
	}

	kek, err := wrappingKey(stretched, secdiscardable)
	if err != nil {
		return nil, err
	}

	defer util.Wipe(kek)

	return open(kek, blob, bytes.TrimSpace(stretching))
}

// Store wraps key and writes it into dir, creating dir if needed.
// Every file is fsynced before being renamed into place.
func (s *Store) Store(dir string, auth Authentication, key []byte) error {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return fmt.Errorf("Failed creating key directory %q: %w", dir, err)
	}

	stretching := stretchingNone
	var stretched []byte

	if auth.Secret != nil {
		salt, err := util.ReadRandomBytes(s.Random, saltLen)
		if err != nil {
			return err
		}

		params := s.Argon2
		if params.Time == 0 {
			params = DefaultArgon2Params
		}

		stretching = params.String()
		stretched = stretch(auth.Secret, salt, params)
		defer util.Wipe(stretched)

		err = renameio.WriteFile(filepath.Join(dir, fileSalt), salt, 0600)
		if err != nil {
			return fmt.Errorf("Failed writing key salt: %w", err)
		}
	}

	secdiscardable, err := util.ReadRandomBytes(s.Random, secdiscardableLen)
	if err != nil {
		return err
	}

	nonce, err := util.ReadRandomBytes(s.Random, 24)
	if err != nil {
		return err
	}

	kek, err := wrappingKey(stretched, secdiscardable)
	if err != nil {
		return err
	}

	defer util.Wipe(kek)

	blob, err := seal(kek, nonce, key, []byte(stretching))
	if err != nil {
		return err
	}

	files := []struct {
		name    string
		content []byte
	}{
		{fileVersion, []byte(layoutVersion)},
		{fileStretching, []byte(stretching)},
		{fileSecdiscardable, secdiscardable},
		{fileEncryptedKey, blob},
	}

	for _, f := range files {
		err := renameio.WriteFile(filepath.Join(dir, f.name), f.content, 0600)
		if err != nil {
			return fmt.Errorf("Failed writing key file %q: %w", f.name, err)
		}
	}

	return nil
}

// StoreAtomically stores key into tmpDir and renames it to dir, so that dir either
// doesn't exist or holds a complete key. It fails if dir already exists.
func (s *Store) StoreAtomically(dir string, tmpDir string, auth Authentication, key []byte) error {
	if shared.PathExists(dir) {
		return fmt.Errorf("%w: %q", ErrExists, dir)
	}

	err := os.RemoveAll(tmpDir)
	if err != nil {
		return fmt.Errorf("Failed removing stale key directory %q: %w", tmpDir, err)
	}

	reverter := revert.New()
	defer reverter.Fail()

	reverter.Add(func() { _ = os.RemoveAll(tmpDir) })

	err = s.Store(tmpDir, auth, key)
	if err != nil {
		return err
	}

	err = fsyncDir(tmpDir)
	if err != nil {
		return err
	}

	// Renaming onto a populated directory fails, so concurrent writers can't clobber each other.
	err = os.Rename(tmpDir, dir)
	if errors.Is(err, unix.EEXIST) || errors.Is(err, unix.ENOTEMPTY) {
		return fmt.Errorf("%w: %q", ErrExists, dir)
	} else if err != nil {
		return fmt.Errorf("Failed renaming key directory %q to %q: %w", tmpDir, dir, err)
	}

	reverter.Success()

	err = fsyncDir(filepath.Dir(dir))
	if err != nil {
		return err
	}

	logger.Debug("Stored key", logger.Ctx{"dir": dir})

	return nil
}

// Destroy overwrites the secdiscardable blob of dir and removes the directory.
func (s *Store) Destroy(dir string) error {
	if !shared.PathExists(dir) {
		return nil
	}

	path := filepath.Join(dir, fileSecdiscardable)
	if shared.PathExists(path) {
		err := overwrite(path, s.Random)
		if err != nil {
			logger.Warn("Failed overwriting key secdiscardable", logger.Ctx{"path": path, "err": err})
		}
	}

	err := os.RemoveAll(dir)
	if err != nil {
		return fmt.Errorf("Failed removing key directory %q: %w", dir, err)
	}

	return fsyncDir(filepath.Dir(dir))
}

func overwrite(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	junk, err := util.ReadRandomBytes(r, int(info.Size()))
	if err != nil {
		return err
	}

	_, err = f.WriteAt(junk, 0)
	if err != nil {
		return err
	}

	return f.Sync()
}

func fsyncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("Failed opening directory %q: %w", path, err)
	}

	defer func() { _ = d.Close() }()

	err = d.Sync()
	if err != nil {
		return fmt.Errorf("Failed syncing directory %q: %w", path, err)
	}

	return nil
}
