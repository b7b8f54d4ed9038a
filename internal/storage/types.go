package storage

import (
	"fmt"

	"github.com/jbweber/crucible/api/v1alpha1"
)

// PoolType is the storage pool backend.
type PoolType string

const (
	PoolTypeDir PoolType = "dir"
)

// VolumeType is the purpose of a storage volume.
type VolumeType string

const (
	VolumeTypeBoot      VolumeType = "boot"
	VolumeTypeData      VolumeType = "data"
	VolumeTypeCloudInit VolumeType = "cloudinit"
	VolumeTypeBaseImage VolumeType = "base-image"
)

// VolumeFormat is the disk format.
type VolumeFormat string

const (
	VolumeFormatQCOW2 VolumeFormat = "qcow2"
	VolumeFormatRaw   VolumeFormat = "raw"
)

// VolumeSpec specifies how to create a storage volume.
type VolumeSpec struct {
	Name   string
	Type   VolumeType
	Format VolumeFormat
	// CapacityGB is the virtual size. Cloud-init volumes use CapacityBytes.
	CapacityGB    uint64
	CapacityBytes uint64
	// BackingPool and BackingVolume name a qcow2 backing image.
	BackingPool   string
	BackingVolume string
	BackingFormat VolumeFormat
}

// Validate checks if the volume spec is valid.
func (v *VolumeSpec) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("volume name is required")
	}
	if v.Type == "" {
		return fmt.Errorf("volume type is required")
	}
	if v.Format != VolumeFormatQCOW2 && v.Format != VolumeFormatRaw {
		return fmt.Errorf("invalid volume format: %q (must be qcow2 or raw)", v.Format)
	}
	if v.capacity() == 0 {
		return fmt.Errorf("volume capacity must be greater than 0")
	}
	if v.BackingVolume != "" && v.Format != VolumeFormatQCOW2 {
		return fmt.Errorf("backing volumes are only supported for qcow2 format")
	}
	if v.BackingVolume != "" && v.BackingPool == "" {
		return fmt.Errorf("backing volume %s has no pool", v.BackingVolume)
	}
	return nil
}

func (v *VolumeSpec) capacity() uint64 {
	if v.CapacityBytes > 0 {
		return v.CapacityBytes
	}
	return v.CapacityGB * gib
}

const gib = 1024 * 1024 * 1024

// PoolInfo describes a storage pool.
type PoolInfo struct {
	Name       string
	Type       PoolType
	Path       string
	UUID       string
	State      string
	Capacity   uint64
	Allocation uint64
	Available  uint64
}

// CapacityGB returns the pool size in GiB.
func (p *PoolInfo) CapacityGB() float64 {
	return float64(p.Capacity) / gib
}

// AllocationGB returns the pool's used space in GiB.
func (p *PoolInfo) AllocationGB() float64 {
	return float64(p.Allocation) / gib
}

// AvailableGB returns the pool's free space in GiB.
func (p *PoolInfo) AvailableGB() float64 {
	return float64(p.Available) / gib
}

// VolumeInfo describes a storage volume.
type VolumeInfo struct {
	Name       string
	Path       string
	Pool       string
	Capacity   uint64
	Allocation uint64
}

// CapacityGB returns the volume capacity in GiB.
func (v *VolumeInfo) CapacityGB() float64 {
	return float64(v.Capacity) / gib
}

// AllocationGB returns the volume allocation in GiB.
func (v *VolumeInfo) AllocationGB() float64 {
	return float64(v.Allocation) / gib
}

const (
	DefaultImagesPool = v1alpha1.DefaultImagesPool
	DefaultVMsPool    = v1alpha1.DefaultVMsPool
	DefaultImagesPath = "/var/lib/libvirt/images/crucible/images"
	DefaultVMsPath    = "/var/lib/libvirt/images/crucible/vms"
)
