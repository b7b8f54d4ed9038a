package v1alpha1

// Environment describes the machines a build boots. It is read from the
// Cruciblefile at the root of the descriptor directory.
type Environment struct {
	TypeMeta   `json:",inline" yaml:",inline"`
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	Spec EnvironmentSpec `json:"spec" yaml:"spec"`
}

// EnvironmentSpec is the desired set of machines.
type EnvironmentSpec struct {
	// Primary names the machine single-machine operations target.
	// Defaults to the first machine.
	// +optional
	Primary string `json:"primary,omitempty" yaml:"primary,omitempty"`

	// BootTimeout bounds the wait for SSH after a machine starts, as a Go
	// duration string. Defaults to "5m".
	// +optional
	BootTimeout string `json:"bootTimeout,omitempty" yaml:"bootTimeout,omitempty"`

	// +optional
	SSH SSHSpec `json:"ssh,omitempty" yaml:"ssh,omitempty"`

	// StoragePool holds machine disks. Defaults to "crucible-vms".
	// +optional
	StoragePool string `json:"storagePool,omitempty" yaml:"storagePool,omitempty"`

	// Provisioners run on every machine after its first boot and on
	// every provision request, before the machine's own provisioners.
	// +optional
	Provisioners []ProvisionerSpec `json:"provisioners,omitempty" yaml:"provisioners,omitempty"`

	// Machines are booted, provisioned and destroyed in this order.
	Machines []MachineSpec `json:"machines" yaml:"machines"`
}

// SSHSpec configures the remote-execution channel.
type SSHSpec struct {
	// User is created by cloud-init with passwordless sudo. Defaults to "crucible".
	// +optional
	User string `json:"user,omitempty" yaml:"user,omitempty"`

	// Port defaults to 22.
	// +optional
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// PrivateKeyPath selects an existing key instead of the per-environment
	// generated one. Relative paths resolve against the descriptor directory.
	// +optional
	PrivateKeyPath string `json:"privateKeyPath,omitempty" yaml:"privateKeyPath,omitempty"`
}

// ProvisionerSpec is a shell provisioner. Exactly one of Inline or Script is set.
type ProvisionerSpec struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Inline is a script body.
	// +optional
	Inline string `json:"inline,omitempty" yaml:"inline,omitempty"`

	// Script is a path to a script, relative to the descriptor directory.
	// +optional
	Script string `json:"script,omitempty" yaml:"script,omitempty"`

	// Privileged runs the script through sudo.
	// +optional
	Privileged bool `json:"privileged,omitempty" yaml:"privileged,omitempty"`
}

// MachineSpec is one virtual machine.
type MachineSpec struct {
	// Name is unique within the environment, lowercase.
	Name string `json:"name" yaml:"name"`

	// +kubebuilder:validation:Minimum=1
	VCPUs int `json:"vcpus" yaml:"vcpus"`

	// CPUMode is "host-model" (default) or "host-passthrough".
	// +optional
	CPUMode string `json:"cpuMode,omitempty" yaml:"cpuMode,omitempty"`

	// +kubebuilder:validation:Minimum=1
	MemoryGiB int `json:"memoryGiB" yaml:"memoryGiB"`

	BootDisk BootDiskSpec `json:"bootDisk" yaml:"bootDisk"`

	// +optional
	DataDisks []DataDiskSpec `json:"dataDisks,omitempty" yaml:"dataDisks,omitempty"`

	// +kubebuilder:validation:MinItems=1
	NetworkInterfaces []NetworkInterfaceSpec `json:"networkInterfaces" yaml:"networkInterfaces"`

	// SSHHost overrides the address used for SSH. Defaults to the IP of the
	// first network interface.
	// +optional
	SSHHost string `json:"sshHost,omitempty" yaml:"sshHost,omitempty"`

	// +optional
	Provisioners []ProvisionerSpec `json:"provisioners,omitempty" yaml:"provisioners,omitempty"`
}

// BootDiskSpec is a copy-on-write disk on top of a base image.
type BootDiskSpec struct {
	// +kubebuilder:validation:Minimum=1
	SizeGB int `json:"sizeGB" yaml:"sizeGB"`

	// Image is a volume name in ImagePool, e.g. "fedora-43.qcow2".
	Image string `json:"image" yaml:"image"`

	// ImagePool defaults to "crucible-images".
	// +optional
	ImagePool string `json:"imagePool,omitempty" yaml:"imagePool,omitempty"`

	// Format is the format of the base image, "qcow2" (default) or "raw".
	// The boot disk itself is always a qcow2 overlay.
	// +optional
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// DataDiskSpec is an extra empty disk.
type DataDiskSpec struct {
	// Device is the guest device name, e.g. "vdb".
	Device string `json:"device" yaml:"device"`

	SizeGB int `json:"sizeGB" yaml:"sizeGB"`
}

// NetworkInterfaceSpec is a bridged interface with a static address.
type NetworkInterfaceSpec struct {
	// IP in CIDR notation. The MAC address and tap name derive from it.
	IP string `json:"ip" yaml:"ip"`

	Gateway string `json:"gateway" yaml:"gateway"`

	Bridge string `json:"bridge" yaml:"bridge"`

	// +optional
	DNSServers []string `json:"dnsServers,omitempty" yaml:"dnsServers,omitempty"`

	// +optional
	DefaultRoute bool `json:"defaultRoute,omitempty" yaml:"defaultRoute,omitempty"`
}

// MachineStatus is the observed state of one machine, as reported by status.
type MachineStatus struct {
	Environment string `json:"environment" yaml:"environment"`
	Machine     string `json:"machine" yaml:"machine"`
	Domain      string `json:"domain" yaml:"domain"`
	State       string `json:"state" yaml:"state"`
	Address     string `json:"address,omitempty" yaml:"address,omitempty"`
	Workdir     string `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	RunID       string `json:"runID,omitempty" yaml:"runID,omitempty"`
	Created     Time   `json:"created,omitempty" yaml:"created,omitempty"`
}
