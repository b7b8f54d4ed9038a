// Package envtest provides an in-memory environment.Backend for tests.
package envtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/jbweber/crucible/internal/environment"
	"github.com/jbweber/crucible/internal/ui"
)

// Chunk is one piece of scripted remote output.
type Chunk struct {
	Kind environment.StreamKind
	Data string
}

// ExecCall records one Communicator.Execute invocation.
type ExecCall struct {
	Command string
	Sudo    bool
}

// Events is an ordered, shared record of backend activity such as
// "state web", "exec web", "provision db" or "destroy force=true".
type Events struct {
	mu  sync.Mutex
	log []string
}

func (e *Events) add(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, fmt.Sprintf(format, args...))
}

// List returns a copy of the recorded events.
func (e *Events) List() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.log))
	copy(out, e.log)
	return out
}

// Communicator replays Output and returns ExitStatus, unless ExecuteFunc is set.
type Communicator struct {
	mu     sync.Mutex
	name   string
	events *Events

	Output      []Chunk
	ExitStatus  int
	Err         error
	ExecuteFunc func(ctx context.Context, command string, sudo bool, out environment.OutputFunc) (int, error)

	Calls []ExecCall
}

// Execute implements environment.Communicator.
func (c *Communicator) Execute(ctx context.Context, command string, sudo bool, out environment.OutputFunc) (int, error) {
	c.mu.Lock()
	c.Calls = append(c.Calls, ExecCall{Command: command, Sudo: sudo})
	c.mu.Unlock()
	if c.events != nil {
		c.events.add("exec %s", c.name)
	}

	if c.ExecuteFunc != nil {
		return c.ExecuteFunc(ctx, command, sudo, out)
	}
	for _, chunk := range c.Output {
		out(chunk.Kind, []byte(chunk.Data))
	}
	return c.ExitStatus, c.Err
}

// Machine is a fake environment.Machine.
type Machine struct {
	mu     sync.Mutex
	name   string
	events *Events

	StateValue environment.MachineState
	StateErr   error
	Comm       *Communicator

	StateCalls int
}

// NewMachine returns a machine in the given state with an exit-0 communicator.
func NewMachine(name string, state environment.MachineState) *Machine {
	return &Machine{
		name:       name,
		StateValue: state,
		Comm:       &Communicator{name: name},
	}
}

// Name implements environment.Machine.
func (m *Machine) Name() string { return m.name }

// State implements environment.Machine.
func (m *Machine) State(context.Context) (environment.MachineState, error) {
	m.mu.Lock()
	m.StateCalls++
	state, err := m.StateValue, m.StateErr
	m.mu.Unlock()
	if m.events != nil {
		m.events.add("state %s", m.name)
	}
	return state, err
}

// SetState changes the observed state.
func (m *Machine) SetState(s environment.MachineState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StateValue = s
}

// Communicator implements environment.Machine.
func (m *Machine) Communicator() environment.Communicator { return m.Comm }

// Backend is a fake environment.Backend holding machines in order.
type Backend struct {
	mu sync.Mutex

	machines []*Machine
	Primary  string
	Events   *Events

	VersionString string
	UpFunc        func(ctx context.Context) error
	DestroyFunc   func(ctx context.Context, force bool) error
	ProvisionFunc func(ctx context.Context, name string) error

	UpCalls        int
	DestroyCalls   []bool
	ProvisionCalls []string
	MachineCalls   []string
	Closed         bool
}

// NewBackend returns a backend over machines. The first machine is primary.
func NewBackend(machines ...*Machine) *Backend {
	b := &Backend{machines: machines, Events: &Events{}, VersionString: "10.0.0"}
	for _, m := range machines {
		m.events = b.Events
		m.Comm.name = m.name
		m.Comm.events = b.Events
	}
	if len(machines) > 0 {
		b.Primary = machines[0].name
	}
	return b
}

// Opener returns an environment.Opener that always yields b.
func (b *Backend) Opener() environment.Opener {
	return func(context.Context, string, string, ui.UI) (environment.Backend, error) {
		return b, nil
	}
}

// Version implements environment.Backend.
func (b *Backend) Version(context.Context) (string, error) { return b.VersionString, nil }

// Up implements environment.Backend.
func (b *Backend) Up(ctx context.Context) error {
	b.mu.Lock()
	b.UpCalls++
	b.mu.Unlock()
	b.Events.add("up")
	if b.UpFunc != nil {
		return b.UpFunc(ctx)
	}
	return nil
}

// Destroy implements environment.Backend.
func (b *Backend) Destroy(ctx context.Context, force bool) error {
	b.mu.Lock()
	b.DestroyCalls = append(b.DestroyCalls, force)
	b.mu.Unlock()
	b.Events.add("destroy force=%t", force)
	if b.DestroyFunc != nil {
		return b.DestroyFunc(ctx, force)
	}
	return nil
}

// Provision implements environment.Backend.
func (b *Backend) Provision(ctx context.Context, name string) error {
	b.mu.Lock()
	b.ProvisionCalls = append(b.ProvisionCalls, name)
	b.mu.Unlock()
	b.Events.add("provision %s", name)
	if b.ProvisionFunc != nil {
		return b.ProvisionFunc(ctx, name)
	}
	return nil
}

// MachineNames implements environment.Backend.
func (b *Backend) MachineNames(context.Context) ([]string, error) {
	names := make([]string, 0, len(b.machines))
	for _, m := range b.machines {
		names = append(names, m.name)
	}
	return names, nil
}

// PrimaryMachineName implements environment.Backend.
func (b *Backend) PrimaryMachineName(context.Context) (string, error) {
	if b.Primary == "" {
		return "", fmt.Errorf("environment has no machines")
	}
	return b.Primary, nil
}

// Machine implements environment.Backend.
func (b *Backend) Machine(_ context.Context, name string) (environment.Machine, error) {
	b.mu.Lock()
	b.MachineCalls = append(b.MachineCalls, name)
	b.mu.Unlock()
	for _, m := range b.machines {
		if m.name == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("machine %q not found", name)
}

// Close implements environment.Backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}
