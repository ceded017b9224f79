// Package manager tracks users and volumes and wires volumes to the rest of the daemon.
package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/canonical/vold/shared/logger"
	"github.com/canonical/vold/shared/subprocess"
	"github.com/canonical/vold/vold/fs"
	"github.com/canonical/vold/vold/volume"
)

// NoUser is returned by SharedStorageUser for users that share storage with nobody.
const NoUser = -1

// Config is what the manager needs to build volumes.
type Config struct {
	OS      volume.OS
	Drivers map[string]fs.Driver
	Paths   volume.Paths

	SDCardFS     bool
	SDCardFSPath string

	// FuseServer is the user-space file server serving FUSE views. Empty disables FUSE views.
	FuseServer        string
	FuseReadAheadKB   int64
	FuseMaxDirtyRatio int64

	HelperTimeout time.Duration
}

// VolumeInfo is the last known state of a volume as reported to the listener.
type VolumeInfo struct {
	Type         volume.Type
	State        volume.State
	UserID       int
	Metadata     volume.Metadata
	Path         string
	InternalPath string
}

// Manager is the volume orchestrator.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	users   map[int]int
	volumes map[string]volume.Volume
	infos   map[string]*VolumeInfo
	servers map[string]*subprocess.Process // File servers by volume id.
}

// New returns a Manager with no users and no volumes.
func New(cfg Config) *Manager {
	if cfg.FuseServer == "" {
		logger.Warn("No FUSE file server configured, visible volumes are served without a FUSE view")
	}

	return &Manager{
		cfg:     cfg,
		users:   map[int]int{},
		volumes: map[string]volume.Volume{},
		infos:   map[string]*VolumeInfo{},
		servers: map[string]*subprocess.Process{},
	}
}

// StartUser records a started user. sharedStorage is the user it shares storage with, or NoUser.
func (m *Manager) StartUser(userID int, sharedStorage int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[userID] = sharedStorage
	logger.Info("User started", logger.Ctx{"user": userID, "sharedStorage": sharedStorage})
}

// StopUser forgets a started user.
func (m *Manager) StopUser(userID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.users, userID)
	logger.Info("User stopped", logger.Ctx{"user": userID})
}

// StartedUsers returns the started users in ascending order.
func (m *Manager) StartedUsers() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]int, 0, len(m.users))
	for userID := range m.users {
		users = append(users, userID)
	}

	sort.Ints(users)

	return users
}

// SharedStorageUser returns the user userID shares storage with, or NoUser.
func (m *Manager) SharedStorageUser(userID int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	shared, ok := m.users[userID]
	if !ok {
		return NoUser
	}

	return shared
}

// CreatePublicVolume creates and registers a public volume for the block device major:minor.
func (m *Manager) CreatePublicVolume(ctx context.Context, major uint32, minor uint32, flags volume.MountFlags, userID int) (*volume.Public, error) {
	cfg := volume.PublicConfig{
		OS:                m.cfg.OS,
		Drivers:           m.cfg.Drivers,
		Users:             m,
		Listener:          m,
		Paths:             m.cfg.Paths,
		SDCardFS:          m.cfg.SDCardFS,
		SDCardFSPath:      m.cfg.SDCardFSPath,
		Fuse:              m.cfg.FuseServer != "",
		FuseReadAheadKB:   m.cfg.FuseReadAheadKB,
		FuseMaxDirtyRatio: m.cfg.FuseMaxDirtyRatio,
		HelperTimeout:     m.cfg.HelperTimeout,
	}

	var id string
	if cfg.Fuse {
		cfg.MountCallback = func(fuse *os.File, path string, internalPath string) bool {
			return m.startFuseServer(id, fuse, path, internalPath)
		}
	}

	vol := volume.NewPublic(cfg, major, minor, flags, userID)
	id = vol.ID()

	m.mu.Lock()
	_, exists := m.volumes[vol.ID()]
	m.mu.Unlock()

	if exists {
		return nil, fmt.Errorf("Volume %q already exists: %w", vol.ID(), volume.ErrInvalidState)
	}

	err := vol.Create(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.volumes[vol.ID()] = vol
	m.mu.Unlock()

	return vol, nil
}

// Volume returns a registered volume.
func (m *Manager) Volume(id string) (volume.Volume, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vol, ok := m.volumes[id]

	return vol, ok
}

// Volumes returns the registered volumes sorted by id.
func (m *Manager) Volumes() []volume.Volume {
	m.mu.Lock()
	defer m.mu.Unlock()

	vols := make([]volume.Volume, 0, len(m.volumes))
	for _, vol := range m.volumes {
		vols = append(vols, vol)
	}

	sort.Slice(vols, func(i, j int) bool { return vols[i].ID() < vols[j].ID() })

	return vols
}

// DestroyVolume unmounts, destroys and unregisters a volume.
func (m *Manager) DestroyVolume(ctx context.Context, id string) error {
	vol, ok := m.Volume(id)
	if !ok {
		return fmt.Errorf("Volume %q not found", id)
	}

	err := vol.Unmount(ctx)
	if err != nil {
		logger.Warn("Failed unmounting volume", logger.Ctx{"volume": id, "err": err})
	}

	err = vol.Destroy(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.volumes, id)
	m.mu.Unlock()

	return nil
}

// Shutdown destroys every volume and stops the file servers. Failures are logged.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, vol := range m.Volumes() {
		err := m.DestroyVolume(ctx, vol.ID())
		if err != nil {
			logger.Warn("Failed destroying volume", logger.Ctx{"volume": vol.ID(), "reason": Reason(err), "err": err})
		}
	}

	m.mu.Lock()
	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}

	m.mu.Unlock()

	for _, id := range ids {
		m.stopFuseServer(id)
	}
}

// stopFuseServer stops the file server of a volume, if any.
func (m *Manager) stopFuseServer(id string) {
	m.mu.Lock()
	server, ok := m.servers[id]
	delete(m.servers, id)
	m.mu.Unlock()

	if !ok {
		return
	}

	err := server.Stop()
	if err != nil && !errors.Is(err, subprocess.ErrNotRunning) {
		logger.Warn("Failed stopping file server", logger.Ctx{"volume": id, "pid": server.PID, "err": err})
		return
	}

	logger.Debug("Stopped file server", logger.Ctx{"volume": id, "pid": server.PID})
}

// startFuseServer hands a FUSE channel to a new file server process as fd 3.
func (m *Manager) startFuseServer(id string, fuse *os.File, path string, internalPath string) bool {
	defer func() { _ = fuse.Close() }()

	m.stopFuseServer(id)

	server := subprocess.NewProcessWithFds(m.cfg.FuseServer, []string{path, internalPath}, nil, nil, nil)

	err := server.StartWithFiles(context.Background(), []*os.File{fuse})
	if err != nil {
		logger.Error("Failed starting file server", logger.Ctx{"path": path, "err": err})
		return false
	}

	logger.Info("Started file server", logger.Ctx{"volume": id, "path": path, "pid": server.PID})

	m.mu.Lock()
	m.servers[id] = server
	m.mu.Unlock()

	return true
}
