package vm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/digitalocean/go-libvirt"
	"go.uber.org/zap/zaptest"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/environment"
	crucibleLibvirt "github.com/jbweber/crucible/internal/libvirt"
	"github.com/jbweber/crucible/internal/ssh"
	"github.com/jbweber/crucible/internal/storage"
	"github.com/jbweber/crucible/internal/ui"
	"github.com/jbweber/crucible/internal/ui/uitest"
)

type mockDomain struct {
	state    libvirt.DomainState
	xml      string
	metadata string
}

// mockLibvirtClient keeps domains in memory. The func fields override the
// default behavior of individual calls.
type mockLibvirtClient struct {
	mu      sync.Mutex
	domains map[string]*mockDomain
	version uint64

	// Configurable behavior
	domainDefineXMLFunc     func(xml string) (libvirt.Domain, error)
	domainCreateFunc        func(dom libvirt.Domain) error
	domainShutdownFunc      func(dom libvirt.Domain) error
	domainUndefineFlagsFunc func(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	domainGetStateErr       error
	domainLookupErr         error

	// Call tracking
	domainDefineXMLCalls     []string
	domainCreateCalls        []string
	domainShutdownCalls      []string
	domainDestroyCalls       []string
	domainUndefineFlagsCalls []string
}

func newMockLibvirtClient() *mockLibvirtClient {
	return &mockLibvirtClient{domains: map[string]*mockDomain{}, version: 10_006_000}
}

// addDomain defines a domain directly, with a metadata record when rec is non-nil.
func (m *mockLibvirtClient) addDomain(t *testing.T, name string, state libvirt.DomainState, rec *metadataRecord) {
	t.Helper()
	d := &mockDomain{state: state}
	if rec != nil {
		d.metadata = rec.xml(t)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domains[name] = d
}

func (m *mockLibvirtClient) domain(name string) *mockDomain {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.domains[name]
}

func (m *mockLibvirtClient) ConnectGetLibVersion() (uint64, error) {
	return m.version, nil
}

func (m *mockLibvirtClient) ConnectListAllDomains(_ int32, _ libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]libvirt.Domain, 0, len(m.domains))
	for name := range m.domains {
		out = append(out, libvirt.Domain{Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, uint32(len(out)), nil
}

func (m *mockLibvirtClient) DomainLookupByName(name string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.domainLookupErr != nil {
		return libvirt.Domain{}, m.domainLookupErr
	}
	if _, ok := m.domains[name]; !ok {
		return libvirt.Domain{}, libvirt.Error{
			Code:    uint32(libvirt.ErrNoDomain),
			Message: fmt.Sprintf("Domain not found: no domain with matching name '%s'", name),
		}
	}
	return libvirt.Domain{Name: name}, nil
}

func (m *mockLibvirtClient) DomainDefineXML(xml string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainDefineXMLCalls = append(m.domainDefineXMLCalls, xml)
	if m.domainDefineXMLFunc != nil {
		return m.domainDefineXMLFunc(xml)
	}
	var d libvirtxml.Domain
	if err := d.Unmarshal(xml); err != nil {
		return libvirt.Domain{}, err
	}
	m.domains[d.Name] = &mockDomain{state: libvirt.DomainShutoff, xml: xml}
	return libvirt.Domain{Name: d.Name}, nil
}

func (m *mockLibvirtClient) DomainCreate(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainCreateCalls = append(m.domainCreateCalls, dom.Name)
	if m.domainCreateFunc != nil {
		return m.domainCreateFunc(dom)
	}
	d, ok := m.domains[dom.Name]
	if !ok {
		return fmt.Errorf("domain %s not found", dom.Name)
	}
	d.state = libvirt.DomainRunning
	return nil
}

func (m *mockLibvirtClient) DomainGetState(dom libvirt.Domain, _ uint32) (int32, int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.domainGetStateErr != nil {
		return 0, 0, m.domainGetStateErr
	}
	d, ok := m.domains[dom.Name]
	if !ok {
		return 0, 0, fmt.Errorf("domain %s not found", dom.Name)
	}
	return int32(d.state), 0, nil
}

// DomainShutdown powers the guest off immediately unless overridden.
func (m *mockLibvirtClient) DomainShutdown(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainShutdownCalls = append(m.domainShutdownCalls, dom.Name)
	if m.domainShutdownFunc != nil {
		return m.domainShutdownFunc(dom)
	}
	if d, ok := m.domains[dom.Name]; ok {
		d.state = libvirt.DomainShutoff
	}
	return nil
}

func (m *mockLibvirtClient) DomainDestroy(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainDestroyCalls = append(m.domainDestroyCalls, dom.Name)
	d, ok := m.domains[dom.Name]
	if !ok {
		return fmt.Errorf("domain %s not found", dom.Name)
	}
	if d.state == libvirt.DomainShutoff {
		return fmt.Errorf("Requested operation is not valid: domain is not running")
	}
	d.state = libvirt.DomainShutoff
	return nil
}

func (m *mockLibvirtClient) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainUndefineFlagsCalls = append(m.domainUndefineFlagsCalls, dom.Name)
	if m.domainUndefineFlagsFunc != nil {
		return m.domainUndefineFlagsFunc(dom, flags)
	}
	delete(m.domains, dom.Name)
	return nil
}

func (m *mockLibvirtClient) DomainSetMetadata(dom libvirt.Domain, _ int32, metadata libvirt.OptString, _ libvirt.OptString, _ libvirt.OptString, _ libvirt.DomainModificationImpact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domains[dom.Name]
	if !ok {
		return fmt.Errorf("domain %s not found", dom.Name)
	}
	if len(metadata) > 0 {
		d.metadata = metadata[0]
	}
	return nil
}

func (m *mockLibvirtClient) DomainGetMetadata(dom libvirt.Domain, _ int32, _ libvirt.OptString, _ libvirt.DomainModificationImpact) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.domains[dom.Name]
	if !ok || d.metadata == "" {
		return "", fmt.Errorf("metadata not found: Requested metadata element is not present")
	}
	return d.metadata, nil
}

// mockStorageManager keeps volumes in memory, keyed by "pool/name".
type mockStorageManager struct {
	mu      sync.Mutex
	volumes map[string]storage.VolumeSpec
	data    map[string][]byte

	ensurePoolsErr   error
	createVolumeFunc func(pool string, spec storage.VolumeSpec) error
	writeErr         error

	ensurePoolsCalls  int
	createVolumeCalls []storage.VolumeSpec
	deletePrefixCalls []string
}

func newMockStorageManager() *mockStorageManager {
	return &mockStorageManager{volumes: map[string]storage.VolumeSpec{}, data: map[string][]byte{}}
}

func (m *mockStorageManager) addImage(pool, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volumes[pool+"/"+name] = storage.VolumeSpec{Name: name, Type: storage.VolumeTypeBaseImage}
}

func (m *mockStorageManager) volumeNames(pool string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for key := range m.volumes {
		if p, name, _ := strings.Cut(key, "/"); p == pool {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *mockStorageManager) EnsureDefaultPools(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensurePoolsCalls++
	return m.ensurePoolsErr
}

func (m *mockStorageManager) VolumeExists(_ context.Context, pool, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.volumes[pool+"/"+name]
	return ok, nil
}

func (m *mockStorageManager) CreateVolume(_ context.Context, pool string, spec storage.VolumeSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createVolumeCalls = append(m.createVolumeCalls, spec)
	if m.createVolumeFunc != nil {
		if err := m.createVolumeFunc(pool, spec); err != nil {
			return err
		}
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	m.volumes[pool+"/"+spec.Name] = spec
	return nil
}

func (m *mockStorageManager) WriteVolumeData(_ context.Context, pool, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.data[pool+"/"+name] = data
	return nil
}

func (m *mockStorageManager) DeleteVolumesWithPrefix(_ context.Context, pool, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletePrefixCalls = append(m.deletePrefixCalls, prefix)
	var deleted []string
	for key := range m.volumes {
		p, name, _ := strings.Cut(key, "/")
		if p == pool && strings.HasPrefix(name, prefix) {
			delete(m.volumes, key)
			deleted = append(deleted, name)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

type execCall struct {
	Command string
	Sudo    bool
}

// mockCommunicator stands in for the SSH communicator of one host.
type mockCommunicator struct {
	mu  sync.Mutex
	cfg ssh.Config

	awaitErr    error
	executeFunc func(ctx context.Context, command string, sudo bool, out environment.OutputFunc) (int, error)

	awaitCalls   int
	executeCalls []execCall
}

func (c *mockCommunicator) AwaitServer(context.Context, time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.awaitCalls++
	return c.awaitErr
}

func (c *mockCommunicator) Execute(ctx context.Context, command string, sudo bool, out environment.OutputFunc) (int, error) {
	c.mu.Lock()
	c.executeCalls = append(c.executeCalls, execCall{Command: command, Sudo: sudo})
	fn := c.executeFunc
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, command, sudo, out)
	}
	return 0, nil
}

// mockComms hands out one communicator per SSH host.
type mockComms struct {
	mu    sync.Mutex
	hosts map[string]*mockCommunicator
}

func (m *mockComms) get(host string) *mockCommunicator {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.hosts[host]
	if !ok {
		c = &mockCommunicator{}
		m.hosts[host] = c
	}
	return c
}

// answeringUI answers every prompt with answer.
type answeringUI struct {
	ui.UI
	answer  string
	prompts *[]string
}

func (a answeringUI) Ask(prompt string) (string, error) {
	*a.prompts = append(*a.prompts, prompt)
	return a.answer, nil
}

func (a answeringUI) Scope(name string) ui.UI {
	return answeringUI{UI: a.UI.Scope(name), answer: a.answer, prompts: a.prompts}
}

type metadataRecord struct {
	environment, machine, workdir, runID string
}

func (r *metadataRecord) xml(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf(`<metadata xmlns="http://crucible.cofront.xyz/v1alpha1">environment: %s
machine: %s
workdir: %s
runID: %s
</metadata>`, r.environment, r.machine, r.workdir, r.runID)
}

// testEnvironment has two machines, web and db, sharing one provisioner.
func testEnvironment() *v1alpha1.Environment {
	env := v1alpha1.NewEnvironment("ci")
	env.Spec.BootTimeout = "1m"
	env.Spec.Provisioners = []v1alpha1.ProvisionerSpec{
		{Name: "packages", Inline: "dnf install -y make", Privileged: true},
	}
	env.Spec.Machines = []v1alpha1.MachineSpec{
		{
			Name:      "web",
			VCPUs:     2,
			MemoryGiB: 2,
			BootDisk:  v1alpha1.BootDiskSpec{SizeGB: 20, Image: "fedora-43.qcow2"},
			DataDisks: []v1alpha1.DataDiskSpec{{Device: "vdb", SizeGB: 10}},
			NetworkInterfaces: []v1alpha1.NetworkInterfaceSpec{
				{IP: "10.0.0.10/24", Gateway: "10.0.0.1", Bridge: "br0", DefaultRoute: true},
			},
			Provisioners: []v1alpha1.ProvisionerSpec{{Inline: "echo web"}},
		},
		{
			Name:      "db",
			VCPUs:     1,
			MemoryGiB: 1,
			BootDisk:  v1alpha1.BootDiskSpec{SizeGB: 10, Image: "fedora-43.qcow2"},
			NetworkInterfaces: []v1alpha1.NetworkInterfaceSpec{
				{IP: "10.0.0.11/24", Gateway: "10.0.0.1", Bridge: "br0"},
			},
		},
	}
	return env
}

type testBackend struct {
	*Backend
	lv    *mockLibvirtClient
	sm    *mockStorageManager
	comms *mockComms
	log   *uitest.Recorder
}

func newTestBackend(t *testing.T, env *v1alpha1.Environment) *testBackend {
	t.Helper()
	return newTestBackendWithUI(t, env, nil)
}

// newTestBackendWithUI wraps the recording console with wrap when non-nil.
func newTestBackendWithUI(t *testing.T, env *v1alpha1.Environment, wrap func(ui.UI) ui.UI) *testBackend {
	t.Helper()
	lv := newMockLibvirtClient()
	sm := newMockStorageManager()
	sm.addImage(v1alpha1.DefaultImagesPool, "fedora-43.qcow2")
	rec := &uitest.Recorder{}
	var u ui.UI = ui.NewConsole(rec)
	if wrap != nil {
		u = wrap(u)
	}
	profile, err := crucibleLibvirt.ProfileFor("kvm")
	if err != nil {
		t.Fatalf("ProfileFor() error = %v", err)
	}

	b := New(t.TempDir(), env, profile, lv, sm, u, zaptest.NewLogger(t), WithShutdownTimeout(time.Second))
	b.pollInterval = 10 * time.Millisecond
	comms := &mockComms{hosts: map[string]*mockCommunicator{}}
	b.newComm = func(cfg ssh.Config) communicator {
		c := comms.get(cfg.Host)
		c.mu.Lock()
		c.cfg = cfg
		c.mu.Unlock()
		return c
	}
	return &testBackend{Backend: b, lv: lv, sm: sm, comms: comms, log: rec}
}

func (tb *testBackend) domainOf(t *testing.T, machine string) string {
	t.Helper()
	m, err := tb.env.Machine(machine)
	if err != nil {
		t.Fatalf("Machine(%q) error = %v", machine, err)
	}
	return tb.domainName(m)
}

// owned returns a metadata record placing machine in this backend's workspace.
func (tb *testBackend) owned(machine string) *metadataRecord {
	return &metadataRecord{environment: tb.env.Name, machine: machine, workdir: tb.dir, runID: "earlier-run"}
}
