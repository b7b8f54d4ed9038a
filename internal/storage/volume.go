package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	libvirtxml "libvirt.org/go/libvirtxml"
)

// CreateVolume creates a volume in poolName.
func (m *Manager) CreateVolume(ctx context.Context, poolName string, spec VolumeSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid volume spec: %w", err)
	}

	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	var backingPath string
	if spec.BackingVolume != "" {
		backingPath, err = m.GetVolumePath(ctx, spec.BackingPool, spec.BackingVolume)
		if err != nil {
			return fmt.Errorf("failed to get backing volume path: %w", err)
		}
	}

	volumeXML, err := generateVolumeXML(spec, backingPath, m.owner, m.group)
	if err != nil {
		return fmt.Errorf("failed to generate volume XML: %w", err)
	}

	if _, err := m.client.StorageVolCreateXML(pool, volumeXML, 0); err != nil {
		return fmt.Errorf("failed to create volume: %w", err)
	}

	m.logger.Debug("created volume",
		zap.String("pool", poolName),
		zap.String("volume", spec.Name),
		zap.String("type", string(spec.Type)))
	return nil
}

// DeleteVolume deletes a volume from poolName.
func (m *Manager) DeleteVolume(ctx context.Context, poolName, volumeName string) error {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	vol, err := m.client.StorageVolLookupByName(pool, volumeName)
	if err != nil {
		return fmt.Errorf("volume not found: %w", err)
	}

	if err := m.client.StorageVolDelete(vol, 0); err != nil {
		return fmt.Errorf("failed to delete volume: %w", err)
	}
	return nil
}

// DeleteVolumesWithPrefix deletes every volume in poolName whose name starts
// with prefix and returns the names it removed. A missing pool removes nothing.
// Deletion continues past individual failures; the first error is returned.
func (m *Manager) DeleteVolumesWithPrefix(ctx context.Context, poolName, prefix string) ([]string, error) {
	if prefix == "" {
		return nil, fmt.Errorf("volume prefix is required")
	}

	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return nil, nil
	}

	volumes, _, err := m.client.StoragePoolListAllVolumes(pool, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	var deleted []string
	var firstErr error
	for _, vol := range volumes {
		if !strings.HasPrefix(vol.Name, prefix) {
			continue
		}
		if err := m.client.StorageVolDelete(vol, 0); err != nil {
			m.logger.Warn("failed to delete volume", zap.String("volume", vol.Name), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to delete volume %s: %w", vol.Name, err)
			}
			continue
		}
		deleted = append(deleted, vol.Name)
	}
	return deleted, firstErr
}

// ListVolumes lists the volumes in poolName.
func (m *Manager) ListVolumes(ctx context.Context, poolName string) ([]VolumeInfo, error) {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return nil, fmt.Errorf("pool not found: %w", err)
	}

	volumes, _, err := m.client.StoragePoolListAllVolumes(pool, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	var infos []VolumeInfo
	for _, vol := range volumes {
		path, err := m.client.StorageVolGetPath(vol)
		if err != nil {
			continue
		}
		_, capacity, allocation, err := m.client.StorageVolGetInfo(vol)
		if err != nil {
			continue
		}
		infos = append(infos, VolumeInfo{
			Name:       vol.Name,
			Path:       path,
			Pool:       poolName,
			Capacity:   capacity,
			Allocation: allocation,
		})
	}
	return infos, nil
}

// GetVolumePath returns the filesystem path of a volume.
func (m *Manager) GetVolumePath(ctx context.Context, poolName, volumeName string) (string, error) {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return "", fmt.Errorf("pool not found: %w", err)
	}

	vol, err := m.client.StorageVolLookupByName(pool, volumeName)
	if err != nil {
		return "", fmt.Errorf("volume not found: %w", err)
	}

	path, err := m.client.StorageVolGetPath(vol)
	if err != nil {
		return "", fmt.Errorf("failed to get volume path: %w", err)
	}
	return path, nil
}

// WriteVolumeData uploads data to a volume.
func (m *Manager) WriteVolumeData(ctx context.Context, poolName, volumeName string, data []byte) error {
	return m.UploadVolume(ctx, poolName, volumeName, bytes.NewReader(data), uint64(len(data)))
}

// UploadVolume streams length bytes from r into a volume.
func (m *Manager) UploadVolume(ctx context.Context, poolName, volumeName string, r io.Reader, length uint64) error {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return fmt.Errorf("pool not found: %w", err)
	}

	vol, err := m.client.StorageVolLookupByName(pool, volumeName)
	if err != nil {
		return fmt.Errorf("volume not found: %w", err)
	}

	if err := m.client.StorageVolUpload(vol, r, 0, length, 0); err != nil {
		return fmt.Errorf("failed to upload data to volume: %w", err)
	}
	return nil
}

// VolumeExists reports whether volumeName exists in poolName.
func (m *Manager) VolumeExists(ctx context.Context, poolName, volumeName string) (bool, error) {
	pool, err := m.client.StoragePoolLookupByName(poolName)
	if err != nil {
		return false, fmt.Errorf("pool not found: %w", err)
	}
	if _, err := m.client.StorageVolLookupByName(pool, volumeName); err != nil {
		return false, nil
	}
	return true, nil
}

func generateVolumeXML(spec VolumeSpec, backingPath, owner, group string) (string, error) {
	vol := &libvirtxml.StorageVolume{
		Type: "file",
		Name: spec.Name,
		Capacity: &libvirtxml.StorageVolumeSize{
			Value: spec.capacity(),
			Unit:  "B",
		},
		Target: &libvirtxml.StorageVolumeTarget{
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: string(spec.Format),
			},
			Permissions: &libvirtxml.StorageVolumeTargetPermissions{
				Owner: owner,
				Group: group,
				Mode:  "0644",
			},
		},
	}

	if backingPath != "" {
		format := spec.BackingFormat
		if format == "" {
			format = VolumeFormatQCOW2
		}
		vol.BackingStore = &libvirtxml.StorageVolumeBackingStore{
			Path: backingPath,
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: string(format),
			},
		}
	}

	out, err := vol.Marshal()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
