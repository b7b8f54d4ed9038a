// Package descriptor locates and loads the Cruciblefile describing a build's
// virtual machines.
package descriptor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/crucible/api/v1alpha1"
)

// FileName is the descriptor file looked up in the descriptor directory.
const FileName = "Cruciblefile"

// ErrInvalid is wrapped by every parse and validation failure.
var ErrInvalid = errors.New("invalid descriptor")

var nameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,30}[a-z0-9])?$`)

// Locate returns the absolute descriptor directory. An empty rel selects the
// workspace itself; otherwise rel is resolved against the workspace.
func Locate(workspace, rel string) (string, error) {
	dir := workspace
	if rel != "" {
		dir = filepath.Join(workspace, rel)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve descriptor directory %s: %w", dir, err)
	}
	return abs, nil
}

// Path returns the descriptor file path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Exists reports whether dir holds a descriptor file.
func Exists(dir string) bool {
	info, err := os.Stat(Path(dir))
	return err == nil && !info.IsDir()
}

// Load reads and validates the descriptor in dir.
func Load(dir string) (*v1alpha1.Environment, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	env, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return env, nil
}

// Parse decodes and validates a descriptor document.
func Parse(data []byte) (*v1alpha1.Environment, error) {
	var env v1alpha1.Environment
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal YAML: %v", ErrInvalid, err)
	}

	if env.APIVersion == "" {
		return nil, fmt.Errorf("%w: missing required field: apiVersion", ErrInvalid)
	}
	if env.Kind == "" {
		return nil, fmt.Errorf("%w: missing required field: kind", ErrInvalid)
	}
	if env.APIVersion != v1alpha1.APIVersion() {
		return nil, fmt.Errorf("%w: unsupported apiVersion: %s (expected: %s)", ErrInvalid, env.APIVersion, v1alpha1.APIVersion())
	}
	if env.Kind != v1alpha1.EnvironmentKind {
		return nil, fmt.Errorf("%w: unsupported kind: %s (expected: %s)", ErrInvalid, env.Kind, v1alpha1.EnvironmentKind)
	}

	applyDefaults(&env)

	if err := validateSpec(&env); err != nil {
		return nil, fmt.Errorf("%w: validation failed: %v", ErrInvalid, err)
	}
	return &env, nil
}

func applyDefaults(env *v1alpha1.Environment) {
	env.Normalize()
	for i := range env.Spec.Machines {
		m := &env.Spec.Machines[i]
		m.CPUMode = m.GetCPUMode()
		m.BootDisk.Format = m.BootDisk.GetFormat()
		m.BootDisk.ImagePool = m.BootDisk.GetImagePool()
	}
	env.Spec.StoragePool = env.GetStoragePool()
	if env.Spec.BootTimeout == "" {
		env.Spec.BootTimeout = v1alpha1.DefaultBootTimeout.String()
	}
}

func validateSpec(env *v1alpha1.Environment) error {
	if env.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if !nameRe.MatchString(env.Name) {
		return fmt.Errorf("metadata.name %q must be lowercase alphanumeric or '-'", env.Name)
	}
	if env.Spec.BootTimeout != "" {
		d, err := time.ParseDuration(env.Spec.BootTimeout)
		if err != nil {
			return fmt.Errorf("spec.bootTimeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("spec.bootTimeout %q must be positive", env.Spec.BootTimeout)
		}
	}
	if p := env.Spec.SSH.Port; p < 0 || p > 65535 {
		return fmt.Errorf("spec.ssh.port %d is out of range", p)
	}
	if err := validateProvisioners("spec.provisioners", env.Spec.Provisioners); err != nil {
		return err
	}

	if len(env.Spec.Machines) == 0 {
		return fmt.Errorf("spec.machines must have at least one machine")
	}
	names := env.MachineNames()
	if dups := lo.FindDuplicates(names); len(dups) > 0 {
		return fmt.Errorf("spec.machines name %q is duplicated", dups[0])
	}
	if env.Spec.Primary != "" && !lo.Contains(names, env.Spec.Primary) {
		return fmt.Errorf("spec.primary %q does not name a machine", env.Spec.Primary)
	}

	for i := range env.Spec.Machines {
		if err := validateMachine(i, &env.Spec.Machines[i]); err != nil {
			return err
		}
	}

	ips := lo.FlatMap(env.Spec.Machines, func(m v1alpha1.MachineSpec, _ int) []string {
		return lo.Map(m.NetworkInterfaces, func(n v1alpha1.NetworkInterfaceSpec, _ int) string { return n.IP })
	})
	if dups := lo.FindDuplicates(ips); len(dups) > 0 {
		return fmt.Errorf("network interface ip %q is duplicated", dups[0])
	}
	return nil
}

func validateMachine(i int, m *v1alpha1.MachineSpec) error {
	field := fmt.Sprintf("spec.machines[%d]", i)
	if m.Name == "" {
		return fmt.Errorf("%s.name is required", field)
	}
	if !nameRe.MatchString(m.Name) {
		return fmt.Errorf("%s.name %q must be lowercase alphanumeric or '-'", field, m.Name)
	}
	if m.VCPUs <= 0 {
		return fmt.Errorf("%s.vcpus must be greater than 0", field)
	}
	if m.MemoryGiB <= 0 {
		return fmt.Errorf("%s.memoryGiB must be greater than 0", field)
	}
	if m.CPUMode != "host-model" && m.CPUMode != "host-passthrough" {
		return fmt.Errorf("%s.cpuMode %q must be host-model or host-passthrough", field, m.CPUMode)
	}
	if m.BootDisk.SizeGB <= 0 {
		return fmt.Errorf("%s.bootDisk.sizeGB must be greater than 0", field)
	}
	if m.BootDisk.Image == "" {
		return fmt.Errorf("%s.bootDisk.image is required", field)
	}
	if m.BootDisk.Format != "qcow2" && m.BootDisk.Format != "raw" {
		return fmt.Errorf("%s.bootDisk.format %q must be qcow2 or raw", field, m.BootDisk.Format)
	}

	for j, disk := range m.DataDisks {
		if disk.Device == "" {
			return fmt.Errorf("%s.dataDisks[%d].device is required", field, j)
		}
		if disk.Device == "vda" {
			return fmt.Errorf("%s.dataDisks[%d].device vda is reserved for the boot disk", field, j)
		}
		if disk.SizeGB <= 0 {
			return fmt.Errorf("%s.dataDisks[%d].sizeGB must be greater than 0", field, j)
		}
	}
	devices := lo.Map(m.DataDisks, func(d v1alpha1.DataDiskSpec, _ int) string { return d.Device })
	if dups := lo.FindDuplicates(devices); len(dups) > 0 {
		return fmt.Errorf("%s.dataDisks device %q is duplicated", field, dups[0])
	}

	if len(m.NetworkInterfaces) == 0 {
		return fmt.Errorf("%s.networkInterfaces must have at least one interface", field)
	}
	for j, iface := range m.NetworkInterfaces {
		if iface.IP == "" {
			return fmt.Errorf("%s.networkInterfaces[%d].ip is required", field, j)
		}
		if _, _, err := net.ParseCIDR(iface.IP); err != nil {
			return fmt.Errorf("%s.networkInterfaces[%d].ip %q must be in CIDR notation", field, j, iface.IP)
		}
		if iface.Gateway == "" {
			return fmt.Errorf("%s.networkInterfaces[%d].gateway is required", field, j)
		}
		if iface.Bridge == "" {
			return fmt.Errorf("%s.networkInterfaces[%d].bridge is required", field, j)
		}
	}

	return validateProvisioners(field+".provisioners", m.Provisioners)
}

func validateProvisioners(field string, ps []v1alpha1.ProvisionerSpec) error {
	for i, p := range ps {
		if (p.Inline == "") == (p.Script == "") {
			return fmt.Errorf("%s[%d] must set exactly one of inline or script", field, i)
		}
	}
	return nil
}
