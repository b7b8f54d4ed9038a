package libvirt

import (
	"fmt"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/naming"
)

// DomainParams is everything needed to render one machine as a domain.
type DomainParams struct {
	// Name is the libvirt domain name, see naming.DomainName.
	Name string
	UUID string
	// Type is the profile's domain type (kvm, vbox, test).
	Type     string
	Firmware string
	// Pool holds the boot, data and seed volumes.
	Pool    string
	Machine *v1alpha1.MachineSpec
	// Seed attaches the cloud-init seed ISO.
	Seed bool
}

// GenerateDomainXML renders the domain XML for p.
func GenerateDomainXML(p DomainParams) (string, error) {
	if p.Machine == nil {
		return "", fmt.Errorf("domain %s has no machine spec", p.Name)
	}

	domain := baseDomain(p)
	domain.Devices.Disks = disks(p)

	ifaces, err := interfaces(p.Machine.NetworkInterfaces)
	if err != nil {
		return "", err
	}
	domain.Devices.Interfaces = ifaces

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}
	return xml, nil
}

// baseDomain carries everything that does not depend on the machine's disks
// or networks: sizing, firmware, clock and the serial console build logs are
// read from.
func baseDomain(p DomainParams) *libvirtxml.Domain {
	m := p.Machine
	domainType := p.Type
	if domainType == "" {
		domainType = "kvm"
	}

	return &libvirtxml.Domain{
		Type: domainType,
		Name: p.Name,
		UUID: p.UUID,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(m.MemoryGiB),
			Unit:  "GiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(m.VCPUs),
		},
		OS: &libvirtxml.DomainOS{
			Firmware: p.Firmware,
			Type:     &libvirtxml.DomainOSType{Arch: "x86_64", Type: "hvm"},
			BIOS:     &libvirtxml.DomainBIOS{UseSerial: "yes"},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
			PAE:  &libvirtxml.DomainFeature{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode:  m.GetCPUMode(),
			Model: &libvirtxml.DomainCPUModel{Fallback: "allow"},
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		// A guest that powers itself off is gone; Destroy only has to undefine it.
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{
			Controllers: []libvirtxml.DomainController{
				{Type: "pci", Index: uintPtr(0), Model: "pci-root"},
			},
			MemBalloon: &libvirtxml.DomainMemBalloon{Model: "virtio"},
			RNGs: []libvirtxml.DomainRNG{{
				Model: "virtio",
				Backend: &libvirtxml.DomainRNGBackend{
					Random: &libvirtxml.DomainRNGBackendRandom{Device: "/dev/urandom"},
				},
			}},
			Serials: []libvirtxml.DomainSerial{{
				Source: &libvirtxml.DomainChardevSource{Pty: &libvirtxml.DomainChardevSourcePty{}},
				Target: &libvirtxml.DomainSerialTarget{Port: uintPtr(0)},
			}},
			Consoles: []libvirtxml.DomainConsole{{
				Source: &libvirtxml.DomainChardevSource{Pty: &libvirtxml.DomainChardevSourcePty{}},
				Target: &libvirtxml.DomainConsoleTarget{Type: "serial", Port: uintPtr(0)},
			}},
		},
	}
}

// disks returns the boot overlay, the data disks in descriptor order and the
// seed ISO when requested. All of them live in p.Pool.
func disks(p DomainParams) []libvirtxml.DomainDisk {
	boot := poolDisk(p.Pool, naming.VolumeNameBoot(p.Name), "qcow2", "vda", "virtio")
	boot.Boot = &libvirtxml.DomainDeviceBoot{Order: 1}
	out := []libvirtxml.DomainDisk{boot}

	for _, d := range p.Machine.DataDisks {
		out = append(out, poolDisk(p.Pool, naming.VolumeNameData(p.Name, d.Device), "qcow2", d.Device, "virtio"))
	}

	if p.Seed {
		seed := poolDisk(p.Pool, naming.VolumeNameCloudInit(p.Name), "raw", "sda", "sata")
		seed.Device = "cdrom"
		seed.Driver.Cache = ""
		seed.ReadOnly = &libvirtxml.DomainDiskReadOnly{}
		out = append(out, seed)
	}
	return out
}

func poolDisk(pool, volume, format, dev, bus string) libvirtxml.DomainDisk {
	return libvirtxml.DomainDisk{
		Device: "disk",
		Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: format, Cache: "none"},
		Source: &libvirtxml.DomainDiskSource{
			Volume: &libvirtxml.DomainDiskSourceVolume{Pool: pool, Volume: volume},
		},
		Target: &libvirtxml.DomainDiskTarget{Dev: dev, Bus: bus},
	}
}

// interfaces bridges every NIC. MAC and host-side device name are derived
// from the IP.
func interfaces(nics []v1alpha1.NetworkInterfaceSpec) ([]libvirtxml.DomainInterface, error) {
	out := make([]libvirtxml.DomainInterface, 0, len(nics))
	for _, nic := range nics {
		mac, err := naming.MACFromIP(nic.IP)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate MAC address for %s: %w", nic.IP, err)
		}
		dev, err := naming.InterfaceNameFromIP(nic.IP)
		if err != nil {
			return nil, fmt.Errorf("failed to calculate interface name for %s: %w", nic.IP, err)
		}
		out = append(out, libvirtxml.DomainInterface{
			MAC: &libvirtxml.DomainInterfaceMAC{Address: mac},
			Source: &libvirtxml.DomainInterfaceSource{
				Bridge: &libvirtxml.DomainInterfaceSourceBridge{Bridge: nic.Bridge},
			},
			Model:  &libvirtxml.DomainInterfaceModel{Type: "virtio"},
			Target: &libvirtxml.DomainInterfaceTarget{Dev: dev},
		})
	}
	return out, nil
}

func uintPtr(v uint) *uint { return &v }
