package vm

import (
	"context"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/crucible/internal/environment"
	"github.com/jbweber/crucible/internal/storage"
)

// libvirtClient is the subset of *libvirt.Libvirt the backend drives.
type libvirtClient interface {
	ConnectGetLibVersion() (uint64, error)
	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)

	DomainLookupByName(name string) (libvirt.Domain, error)
	DomainDefineXML(xml string) (libvirt.Domain, error)
	DomainCreate(dom libvirt.Domain) error
	DomainGetState(dom libvirt.Domain, flags uint32) (state int32, reason int32, err error)
	DomainShutdown(dom libvirt.Domain) error
	DomainDestroy(dom libvirt.Domain) error
	DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error

	DomainSetMetadata(dom libvirt.Domain, typ int32, metadata libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error)
}

// storageManager is the subset of *storage.Manager the backend drives.
type storageManager interface {
	EnsureDefaultPools(ctx context.Context) error
	VolumeExists(ctx context.Context, poolName, volumeName string) (bool, error)
	CreateVolume(ctx context.Context, poolName string, spec storage.VolumeSpec) error
	WriteVolumeData(ctx context.Context, poolName, volumeName string, data []byte) error
	DeleteVolumesWithPrefix(ctx context.Context, poolName, prefix string) ([]string, error)
}

// communicator runs commands on one machine and waits for it to accept them.
type communicator interface {
	environment.Communicator
	AwaitServer(ctx context.Context, timeout time.Duration) error
}
