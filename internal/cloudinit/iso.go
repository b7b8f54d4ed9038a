package cloudinit

import (
	"bytes"
	"fmt"

	"github.com/kdomanski/iso9660"
)

// VolumeLabel is the ISO label the NoCloud datasource looks for.
const VolumeLabel = "CIDATA"

// GenerateISO builds the seed ISO with user-data, meta-data and
// network-config in its root directory.
func GenerateISO(in *Input) ([]byte, error) {
	if in == nil {
		return nil, fmt.Errorf("cloud-init input cannot be nil")
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cloud-init input: %w", err)
	}

	files := []struct {
		name string
		gen  func(*Input) (string, error)
	}{
		{"user-data", GenerateUserData},
		{"meta-data", GenerateMetaData},
		{"network-config", GenerateNetworkConfig},
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() { _ = writer.Cleanup() }()

	for _, f := range files {
		content, err := f.gen(in)
		if err != nil {
			return nil, fmt.Errorf("failed to generate %s: %w", f.name, err)
		}
		if err := writer.AddFile(bytes.NewReader([]byte(content)), f.name); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.name, err)
		}
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, VolumeLabel); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}
	return buf.Bytes(), nil
}
