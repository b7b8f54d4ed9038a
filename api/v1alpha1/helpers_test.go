package v1alpha1

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestNewEnvironment(t *testing.T) {
	env := NewEnvironment("ci")

	if env.APIVersion != "crucible.cofront.xyz/v1alpha1" {
		t.Errorf("APIVersion = %q", env.APIVersion)
	}
	if env.Kind != EnvironmentKind {
		t.Errorf("Kind = %q, want %q", env.Kind, EnvironmentKind)
	}
	if env.Name != "ci" {
		t.Errorf("Name = %q, want ci", env.Name)
	}
	if env.UID == "" {
		t.Error("UID should be set")
	}
	if env.CreationTimestamp.IsZero() {
		t.Error("CreationTimestamp should be set")
	}
}

func TestSetDefaultAPIVersion(t *testing.T) {
	env := &Environment{}
	SetDefaultAPIVersion(env)
	if env.APIVersion != APIVersion() || env.Kind != EnvironmentKind {
		t.Errorf("got %s/%s", env.APIVersion, env.Kind)
	}

	custom := &Environment{TypeMeta: TypeMeta{APIVersion: "other/v1", Kind: "Other"}}
	SetDefaultAPIVersion(custom)
	if custom.APIVersion != "other/v1" || custom.Kind != "Other" {
		t.Errorf("existing values overwritten: %s/%s", custom.APIVersion, custom.Kind)
	}
}

func TestEnvironment_PrimaryName(t *testing.T) {
	tests := []struct {
		name     string
		spec     EnvironmentSpec
		expected string
	}{
		{"no machines", EnvironmentSpec{}, ""},
		{"defaults to first", EnvironmentSpec{Machines: []MachineSpec{{Name: "web"}, {Name: "db"}}}, "web"},
		{"explicit primary", EnvironmentSpec{Primary: "db", Machines: []MachineSpec{{Name: "web"}, {Name: "db"}}}, "db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Environment{Spec: tt.spec}
			if got := env.PrimaryName(); got != tt.expected {
				t.Errorf("PrimaryName() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestEnvironment_Machine(t *testing.T) {
	env := &Environment{Spec: EnvironmentSpec{Machines: []MachineSpec{{Name: "web", VCPUs: 2}, {Name: "db"}}}}

	m, err := env.Machine("web")
	if err != nil {
		t.Fatalf("Machine(web) error = %v", err)
	}
	if m.VCPUs != 2 {
		t.Errorf("VCPUs = %d, want 2", m.VCPUs)
	}

	if _, err := env.Machine("cache"); err == nil {
		t.Error("expected error for unknown machine")
	}

	names := env.MachineNames()
	if len(names) != 2 || names[0] != "web" || names[1] != "db" {
		t.Errorf("MachineNames() = %v", names)
	}
}

func TestEnvironment_Defaults(t *testing.T) {
	env := &Environment{}
	if got := env.GetBootTimeout(); got != DefaultBootTimeout {
		t.Errorf("GetBootTimeout() = %v", got)
	}
	if got := env.GetStoragePool(); got != DefaultVMsPool {
		t.Errorf("GetStoragePool() = %q", got)
	}
	if got := env.GetSSHUser(); got != "crucible" {
		t.Errorf("GetSSHUser() = %q", got)
	}
	if got := env.GetSSHPort(); got != 22 {
		t.Errorf("GetSSHPort() = %d", got)
	}

	env.Spec.BootTimeout = "90s"
	env.Spec.SSH = SSHSpec{User: "ci", Port: 2222}
	env.Spec.StoragePool = "fast"
	if got := env.GetBootTimeout(); got != 90*time.Second {
		t.Errorf("GetBootTimeout() = %v", got)
	}
	if env.GetSSHUser() != "ci" || env.GetSSHPort() != 2222 || env.GetStoragePool() != "fast" {
		t.Error("explicit values not returned")
	}

	env.Spec.BootTimeout = "soon"
	if got := env.GetBootTimeout(); got != DefaultBootTimeout {
		t.Errorf("invalid timeout should fall back, got %v", got)
	}
}

func TestMachineSpec_GetSSHHost(t *testing.T) {
	m := &MachineSpec{NetworkInterfaces: []NetworkInterfaceSpec{{IP: "10.0.0.10/24"}}}
	if got := m.GetSSHHost(); got != "10.0.0.10" {
		t.Errorf("GetSSHHost() = %q", got)
	}
	m.SSHHost = "web.internal"
	if got := m.GetSSHHost(); got != "web.internal" {
		t.Errorf("GetSSHHost() = %q", got)
	}
	if got := (&MachineSpec{}).GetSSHHost(); got != "" {
		t.Errorf("GetSSHHost() = %q, want empty", got)
	}
}

func TestProvisionersFor(t *testing.T) {
	env := &Environment{Spec: EnvironmentSpec{
		Provisioners: []ProvisionerSpec{{Name: "common"}},
		Machines:     []MachineSpec{{Name: "web", Provisioners: []ProvisionerSpec{{Name: "nginx"}}}},
	}}
	got := env.ProvisionersFor(&env.Spec.Machines[0])
	if len(got) != 2 || got[0].Name != "common" || got[1].Name != "nginx" {
		t.Errorf("ProvisionersFor() = %+v", got)
	}
}

func TestEnvironment_Normalize(t *testing.T) {
	env := &Environment{
		ObjectMeta: ObjectMeta{Name: " CI "},
		Spec:       EnvironmentSpec{Primary: "Web", Machines: []MachineSpec{{Name: "WEB "}}},
	}
	env.Normalize()
	if env.Name != "ci" || env.Spec.Primary != "web" || env.Spec.Machines[0].Name != "web" {
		t.Errorf("Normalize() = %q %q %q", env.Name, env.Spec.Primary, env.Spec.Machines[0].Name)
	}
}

func TestEnvironment_UnmarshalYAML(t *testing.T) {
	doc := `
apiVersion: crucible.cofront.xyz/v1alpha1
kind: Environment
metadata:
  name: ci
spec:
  machines:
    - name: web
      vcpus: 2
      memoryGiB: 4
      bootDisk:
        sizeGB: 20
        image: fedora-43.qcow2
      networkInterfaces:
        - ip: 10.0.0.10/24
          gateway: 10.0.0.1
          bridge: br0
`
	var env Environment
	if err := yaml.Unmarshal([]byte(doc), &env); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if env.Kind != EnvironmentKind || env.Name != "ci" {
		t.Errorf("meta = %s %s", env.Kind, env.Name)
	}
	if len(env.Spec.Machines) != 1 {
		t.Fatalf("machines = %d", len(env.Spec.Machines))
	}
	m := env.Spec.Machines[0]
	if m.BootDisk.GetImagePool() != DefaultImagesPool || m.BootDisk.GetFormat() != "qcow2" {
		t.Errorf("boot disk defaults = %s %s", m.BootDisk.GetImagePool(), m.BootDisk.GetFormat())
	}
	if m.GetCPUMode() != "host-model" {
		t.Errorf("GetCPUMode() = %q", m.GetCPUMode())
	}
}
