package descriptor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jbweber/crucible/api/v1alpha1"
)

const validDoc = `apiVersion: crucible.cofront.xyz/v1alpha1
kind: Environment
metadata:
  name: CI
spec:
  provisioners:
    - inline: dnf -y install git
      privileged: true
  machines:
    - name: web
      vcpus: 2
      memoryGiB: 2
      bootDisk:
        sizeGB: 20
        image: fedora-43.qcow2
      dataDisks:
        - device: vdb
          sizeGB: 10
      networkInterfaces:
        - ip: 10.0.0.10/24
          gateway: 10.0.0.1
          bridge: br0
          defaultRoute: true
    - name: db
      vcpus: 1
      memoryGiB: 1
      bootDisk:
        sizeGB: 10
        image: fedora-43.qcow2
      networkInterfaces:
        - ip: 10.0.0.11/24
          gateway: 10.0.0.1
          bridge: br0
`

func TestParse_Valid(t *testing.T) {
	env, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if env.Name != "ci" {
		t.Errorf("Name = %q, want ci (normalized)", env.Name)
	}
	if got := env.MachineNames(); len(got) != 2 || got[0] != "web" || got[1] != "db" {
		t.Errorf("MachineNames() = %v", got)
	}
	if env.PrimaryName() != "web" {
		t.Errorf("PrimaryName() = %q", env.PrimaryName())
	}
	web := env.Spec.Machines[0]
	if web.CPUMode != "host-model" {
		t.Errorf("CPUMode = %q", web.CPUMode)
	}
	if web.BootDisk.Format != "qcow2" || web.BootDisk.ImagePool != v1alpha1.DefaultImagesPool {
		t.Errorf("boot disk defaults = %+v", web.BootDisk)
	}
	if env.Spec.StoragePool != v1alpha1.DefaultVMsPool {
		t.Errorf("StoragePool = %q", env.Spec.StoragePool)
	}
	if env.Spec.BootTimeout != "5m0s" {
		t.Errorf("BootTimeout = %q", env.Spec.BootTimeout)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(string) string
		wantErr string
	}{
		{
			name:    "missing apiVersion",
			edit:    func(s string) string { return strings.Replace(s, "apiVersion: crucible.cofront.xyz/v1alpha1\n", "", 1) },
			wantErr: "missing required field: apiVersion",
		},
		{
			name:    "missing kind",
			edit:    func(s string) string { return strings.Replace(s, "kind: Environment\n", "", 1) },
			wantErr: "missing required field: kind",
		},
		{
			name:    "wrong apiVersion",
			edit:    func(s string) string { return strings.Replace(s, "crucible.cofront.xyz/v1alpha1", "foundry.cofront.xyz/v1alpha1", 1) },
			wantErr: "unsupported apiVersion",
		},
		{
			name:    "wrong kind",
			edit:    func(s string) string { return strings.Replace(s, "kind: Environment", "kind: VirtualMachine", 1) },
			wantErr: "unsupported kind",
		},
		{
			name:    "invalid yaml",
			edit:    func(s string) string { return s + "\n  - [unbalanced" },
			wantErr: "failed to unmarshal YAML",
		},
		{
			name:    "missing name",
			edit:    func(s string) string { return strings.Replace(s, "  name: CI\n", "  labels: {}\n", 1) },
			wantErr: "metadata.name is required",
		},
		{
			name:    "no machines",
			edit:    func(s string) string { return s[:strings.Index(s, "  machines:")] + "  machines: []\n" },
			wantErr: "at least one machine",
		},
		{
			name:    "duplicate machine",
			edit:    func(s string) string { return strings.Replace(s, "name: db", "name: web", 1) },
			wantErr: `name "web" is duplicated`,
		},
		{
			name:    "unknown primary",
			edit:    func(s string) string { return strings.Replace(s, "spec:\n", "spec:\n  primary: cache\n", 1) },
			wantErr: `spec.primary "cache"`,
		},
		{
			name:    "zero vcpus",
			edit:    func(s string) string { return strings.Replace(s, "vcpus: 2", "vcpus: 0", 1) },
			wantErr: "spec.machines[0].vcpus must be greater than 0",
		},
		{
			name:    "zero memory",
			edit:    func(s string) string { return strings.Replace(s, "memoryGiB: 1", "memoryGiB: 0", 1) },
			wantErr: "spec.machines[1].memoryGiB must be greater than 0",
		},
		{
			name:    "missing image",
			edit:    func(s string) string { return strings.Replace(s, "image: fedora-43.qcow2", "image: \"\"", 1) },
			wantErr: "bootDisk.image is required",
		},
		{
			name:    "vda data disk",
			edit:    func(s string) string { return strings.Replace(s, "device: vdb", "device: vda", 1) },
			wantErr: "reserved for the boot disk",
		},
		{
			name:    "ip without prefix",
			edit:    func(s string) string { return strings.Replace(s, "ip: 10.0.0.10/24", "ip: 10.0.0.10", 1) },
			wantErr: "CIDR notation",
		},
		{
			name:    "duplicate ip across machines",
			edit:    func(s string) string { return strings.Replace(s, "10.0.0.11/24", "10.0.0.10/24", 1) },
			wantErr: `ip "10.0.0.10/24" is duplicated`,
		},
		{
			name:    "provisioner with both sources",
			edit:    func(s string) string { return strings.Replace(s, "privileged: true", "privileged: true\n      script: setup.sh", 1) },
			wantErr: "exactly one of inline or script",
		},
		{
			name:    "negative boot timeout",
			edit:    func(s string) string { return strings.Replace(s, "spec:\n", "spec:\n  bootTimeout: -1m\n", 1) },
			wantErr: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.edit(validDoc)))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLocate(t *testing.T) {
	ws := t.TempDir()

	got, err := Locate(ws, "")
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if got != ws {
		t.Errorf("Locate(ws, \"\") = %q, want %q", got, ws)
	}

	got, err = Locate(ws, "infra/vm")
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if got != filepath.Join(ws, "infra", "vm") {
		t.Errorf("Locate(ws, infra/vm) = %q", got)
	}
	if !filepath.IsAbs(got) {
		t.Errorf("Locate() = %q is not absolute", got)
	}
}

func TestExistsAndLoad(t *testing.T) {
	dir := t.TempDir()

	if Exists(dir) {
		t.Error("Exists() = true for empty dir")
	}
	if _, err := Load(dir); err == nil {
		t.Error("Load() expected error for missing file")
	}

	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(validDoc), 0644); err != nil {
		t.Fatalf("failed to write descriptor: %v", err)
	}
	if !Exists(dir) {
		t.Error("Exists() = false after writing descriptor")
	}
	env, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(env.Spec.Machines) != 2 {
		t.Errorf("machines = %d, want 2", len(env.Spec.Machines))
	}
}

func TestExists_DirectoryNamedLikeDescriptor(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, FileName), 0755); err != nil {
		t.Fatal(err)
	}
	if Exists(dir) {
		t.Error("Exists() = true for a directory")
	}
}
