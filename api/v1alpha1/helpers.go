package v1alpha1

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// GroupName is the API group for crucible documents.
	GroupName = "crucible.cofront.xyz"

	// Version is the API version.
	Version = "v1alpha1"

	// EnvironmentKind is the kind of a Cruciblefile.
	EnvironmentKind = "Environment"

	DefaultImagesPool  = "crucible-images"
	DefaultVMsPool     = "crucible-vms"
	DefaultSSHUser     = "crucible"
	DefaultSSHPort     = 22
	DefaultBootTimeout = 5 * time.Minute
	DefaultCPUMode     = "host-model"
	DefaultDiskFormat  = "qcow2"
)

// APIVersion returns the group/version string.
func APIVersion() string {
	return GroupName + "/" + Version
}

// NewEnvironment returns an Environment with type metadata set.
func NewEnvironment(name string) *Environment {
	return &Environment{
		TypeMeta: TypeMeta{
			APIVersion: APIVersion(),
			Kind:       EnvironmentKind,
		},
		ObjectMeta: ObjectMeta{
			Name:              name,
			UID:               uuid.NewString(),
			CreationTimestamp: NewTime(time.Now()),
		},
	}
}

// SetDefaultAPIVersion fills apiVersion and kind when missing.
func SetDefaultAPIVersion(env *Environment) {
	if env.APIVersion == "" {
		env.APIVersion = APIVersion()
	}
	if env.Kind == "" {
		env.Kind = EnvironmentKind
	}
}

// MachineNames returns machine names in declaration order.
func (env *Environment) MachineNames() []string {
	names := make([]string, 0, len(env.Spec.Machines))
	for _, m := range env.Spec.Machines {
		names = append(names, m.Name)
	}
	return names
}

// Machine returns the named machine.
func (env *Environment) Machine(name string) (*MachineSpec, error) {
	for i := range env.Spec.Machines {
		if env.Spec.Machines[i].Name == name {
			return &env.Spec.Machines[i], nil
		}
	}
	return nil, fmt.Errorf("machine %q is not defined in environment %q", name, env.Name)
}

// PrimaryName returns the primary machine, defaulting to the first one.
func (env *Environment) PrimaryName() string {
	if env.Spec.Primary != "" {
		return env.Spec.Primary
	}
	if len(env.Spec.Machines) == 0 {
		return ""
	}
	return env.Spec.Machines[0].Name
}

// GetBootTimeout returns the parsed boot timeout with default fallback.
func (env *Environment) GetBootTimeout() time.Duration {
	d, err := time.ParseDuration(env.Spec.BootTimeout)
	if err != nil || d <= 0 {
		return DefaultBootTimeout
	}
	return d
}

// GetStoragePool returns the machine disk pool with default fallback.
func (env *Environment) GetStoragePool() string {
	if env.Spec.StoragePool == "" {
		return DefaultVMsPool
	}
	return env.Spec.StoragePool
}

// GetSSHUser returns the SSH user with default fallback.
func (env *Environment) GetSSHUser() string {
	if env.Spec.SSH.User == "" {
		return DefaultSSHUser
	}
	return env.Spec.SSH.User
}

// GetSSHPort returns the SSH port with default fallback.
func (env *Environment) GetSSHPort() int {
	if env.Spec.SSH.Port == 0 {
		return DefaultSSHPort
	}
	return env.Spec.SSH.Port
}

// ProvisionersFor returns environment-wide provisioners followed by the
// machine's own.
func (env *Environment) ProvisionersFor(m *MachineSpec) []ProvisionerSpec {
	out := make([]ProvisionerSpec, 0, len(env.Spec.Provisioners)+len(m.Provisioners))
	out = append(out, env.Spec.Provisioners...)
	return append(out, m.Provisioners...)
}

// GetCPUMode returns the CPU mode with default fallback.
func (m *MachineSpec) GetCPUMode() string {
	if m.CPUMode == "" {
		return DefaultCPUMode
	}
	return m.CPUMode
}

// GetSSHHost returns the SSH address: SSHHost, else the first interface IP
// without its prefix length.
func (m *MachineSpec) GetSSHHost() string {
	if m.SSHHost != "" {
		return m.SSHHost
	}
	if len(m.NetworkInterfaces) == 0 {
		return ""
	}
	ip, _, _ := strings.Cut(m.NetworkInterfaces[0].IP, "/")
	return ip
}

// GetImagePool returns the base image pool with default fallback.
func (b *BootDiskSpec) GetImagePool() string {
	if b.ImagePool == "" {
		return DefaultImagesPool
	}
	return b.ImagePool
}

// GetFormat returns the disk format with default fallback.
func (b *BootDiskSpec) GetFormat() string {
	if b.Format == "" {
		return DefaultDiskFormat
	}
	return b.Format
}

// Normalize lowercases names and trims whitespace.
func (env *Environment) Normalize() {
	env.Name = strings.ToLower(strings.TrimSpace(env.Name))
	env.Spec.Primary = strings.ToLower(strings.TrimSpace(env.Spec.Primary))
	for i := range env.Spec.Machines {
		env.Spec.Machines[i].Name = strings.ToLower(strings.TrimSpace(env.Spec.Machines[i].Name))
	}
}
