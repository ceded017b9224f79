package manager

import (
	"github.com/canonical/vold/shared/logger"
	"github.com/canonical/vold/vold/volume"
)

func (m *Manager) info(id string) *VolumeInfo {
	info, ok := m.infos[id]
	if !ok {
		info = &VolumeInfo{}
		m.infos[id] = info
	}

	return info
}

// VolumeState returns the last reported state of a volume.
func (m *Manager) VolumeState(id string) (VolumeInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.infos[id]
	if !ok {
		return VolumeInfo{}, false
	}

	return *info, true
}

func (m *Manager) VolumeCreated(id string, volType volume.Type, userID int) {
	logger.Info("Volume created", logger.Ctx{"volume": id, "type": volType, "user": userID})

	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.info(id)
	info.Type = volType
	info.UserID = userID
}

func (m *Manager) VolumeStateChanged(id string, state volume.State, userID int) {
	logger.Info("Volume state changed", logger.Ctx{"volume": id, "state": state, "user": userID})

	m.mu.Lock()
	m.info(id).State = state
	m.mu.Unlock()

	// The file server goes away with the view it serves.
	switch state {
	case volume.StateUnmounting, volume.StateUnmounted, volume.StateDestroyed:
		m.stopFuseServer(id)
	}
}

func (m *Manager) VolumeMetadataChanged(id string, metadata volume.Metadata) {
	logger.Info("Volume metadata changed", logger.Ctx{"volume": id, "fsType": metadata.FsType, "fsUUID": metadata.FsUUID, "fsLabel": metadata.FsLabel})

	m.mu.Lock()
	defer m.mu.Unlock()

	m.info(id).Metadata = metadata
}

func (m *Manager) VolumePathChanged(id string, path string) {
	logger.Debug("Volume path changed", logger.Ctx{"volume": id, "path": path})

	m.mu.Lock()
	defer m.mu.Unlock()

	m.info(id).Path = path
}

func (m *Manager) VolumeInternalPathChanged(id string, path string) {
	logger.Debug("Volume internal path changed", logger.Ctx{"volume": id, "path": path})

	m.mu.Lock()
	defer m.mu.Unlock()

	m.info(id).InternalPath = path
}

func (m *Manager) VolumeDestroyed(id string) {
	logger.Info("Volume destroyed", logger.Ctx{"volume": id})
}
