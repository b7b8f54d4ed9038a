package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ImportImage uploads a local qcow2 or bootable raw image into the images
// pool as imageName. The format is detected from the file contents and the
// volume name gets the matching extension. It returns the stored name.
func (m *Manager) ImportImage(ctx context.Context, filePath, imageName string) (string, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to stat image file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("image path %s is a directory", filePath)
	}

	format, err := DetectImageFormat(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to detect image format: %w", err)
	}

	if imageName == "" {
		imageName = filepath.Base(filePath)
	}
	imageName = withFormatExtension(imageName, format)

	exists, err := m.VolumeExists(ctx, DefaultImagesPool, imageName)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("image %s already exists", imageName)
	}

	spec := VolumeSpec{
		Name:          imageName,
		Type:          VolumeTypeBaseImage,
		Format:        format,
		CapacityBytes: uint64(info.Size()),
	}
	if err := m.CreateVolume(ctx, DefaultImagesPool, spec); err != nil {
		return "", fmt.Errorf("failed to create image volume: %w", err)
	}

	f, err := os.Open(filePath)
	if err != nil {
		_ = m.DeleteVolume(ctx, DefaultImagesPool, imageName)
		return "", fmt.Errorf("failed to open image file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := m.UploadVolume(ctx, DefaultImagesPool, imageName, f, uint64(info.Size())); err != nil {
		_ = m.DeleteVolume(ctx, DefaultImagesPool, imageName)
		return "", fmt.Errorf("failed to upload image data: %w", err)
	}

	m.logger.Info("imported image",
		zap.String("image", imageName),
		zap.String("format", string(format)),
		zap.Int64("bytes", info.Size()))
	return imageName, nil
}

// ListImages lists the base images.
func (m *Manager) ListImages(ctx context.Context) ([]VolumeInfo, error) {
	return m.ListVolumes(ctx, DefaultImagesPool)
}

// DeleteImage removes a base image. Machines cloned from it keep working
// only until their overlays are recreated.
func (m *Manager) DeleteImage(ctx context.Context, imageName string) error {
	return m.DeleteVolume(ctx, DefaultImagesPool, imageName)
}

// GetImagePath returns the filesystem path of a base image.
func (m *Manager) GetImagePath(ctx context.Context, imageName string) (string, error) {
	return m.GetVolumePath(ctx, DefaultImagesPool, imageName)
}

// ImageExists reports whether a base image exists.
func (m *Manager) ImageExists(ctx context.Context, imageName string) (bool, error) {
	return m.VolumeExists(ctx, DefaultImagesPool, imageName)
}

func withFormatExtension(name string, format VolumeFormat) string {
	ext := "." + string(format)
	if strings.HasSuffix(name, ext) {
		return name
	}
	switch filepath.Ext(name) {
	case ".qcow2", ".raw", ".img":
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return name + ext
}
