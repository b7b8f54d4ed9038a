// Package environment defines the handle to one loaded set of virtual
// machines and the backend contract it is driven through.
package environment

import (
	"context"
	"fmt"
	"strings"

	"github.com/jbweber/crucible/internal/ui"
)

// DefaultProvider is used when no provider is configured.
const DefaultProvider = "virtualbox"

// MachineState is the observed run state of a machine.
type MachineState string

const (
	StateNotCreated MachineState = "not_created"
	StateRunning    MachineState = "running"
	StatePaused     MachineState = "paused"
	StateShutdown   MachineState = "shutdown"
	StateStopped    MachineState = "stopped"
	StateCrashed    MachineState = "crashed"
	StateSuspended  MachineState = "suspended"
	StateUnknown    MachineState = "unknown"
)

// StreamKind identifies which remote output stream a chunk came from.
type StreamKind int

const (
	Stdout StreamKind = iota
	Stderr
)

func (k StreamKind) String() string {
	if k == Stderr {
		return "stderr"
	}
	return "stdout"
}

// OutputFunc receives remote output in the order it arrives.
type OutputFunc func(kind StreamKind, data []byte)

// Communicator runs commands on a machine.
type Communicator interface {
	// Execute runs command and returns its exit status. A nonzero status is
	// not an error; err is reserved for transport failures.
	Execute(ctx context.Context, command string, sudo bool, out OutputFunc) (int, error)
}

// Machine is one virtual machine of an environment.
type Machine interface {
	Name() string
	State(ctx context.Context) (MachineState, error)
	Communicator() Communicator
}

// Backend is the virtualization tool driving an environment.
type Backend interface {
	Version(ctx context.Context) (string, error)
	Up(ctx context.Context) error
	Destroy(ctx context.Context, force bool) error
	// Provision provisions the named machine, or every machine when name is empty.
	Provision(ctx context.Context, name string) error
	MachineNames(ctx context.Context) ([]string, error)
	PrimaryMachineName(ctx context.Context) (string, error)
	Machine(ctx context.Context, name string) (Machine, error)
	Close() error
}

// Opener loads the environment described in dir for provider. Backend
// output goes through u.
type Opener func(ctx context.Context, dir, provider string, u ui.UI) (Backend, error)

// Environment is a loaded set of machines bound to a directory and provider.
type Environment struct {
	Dir      string
	Provider string
	UI       ui.UI

	backend Backend
}

// NormalizeProvider maps an empty provider to DefaultProvider.
func NormalizeProvider(provider string) string {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return DefaultProvider
	}
	return provider
}

// Open loads the environment in dir through open.
func Open(ctx context.Context, open Opener, dir, provider string, u ui.UI) (*Environment, error) {
	provider = NormalizeProvider(provider)
	backend, err := open(ctx, dir, provider, u)
	if err != nil {
		return nil, err
	}
	return New(dir, provider, u, backend), nil
}

// New wraps an already opened backend.
func New(dir, provider string, u ui.UI, backend Backend) *Environment {
	return &Environment{
		Dir:      dir,
		Provider: NormalizeProvider(provider),
		UI:       u,
		backend:  backend,
	}
}

// Version returns the backend tool version.
func (e *Environment) Version(ctx context.Context) (string, error) {
	return e.backend.Version(ctx)
}

// Up boots every machine.
func (e *Environment) Up(ctx context.Context) error {
	return e.backend.Up(ctx)
}

// Destroy removes every machine. force skips confirmation.
func (e *Environment) Destroy(ctx context.Context, force bool) error {
	return e.backend.Destroy(ctx, force)
}

// Provision provisions one machine, or all of them when name is empty.
func (e *Environment) Provision(ctx context.Context, name string) error {
	return e.backend.Provision(ctx, name)
}

// MachineNames lists machine names in the order the backend reports them.
func (e *Environment) MachineNames(ctx context.Context) ([]string, error) {
	return e.backend.MachineNames(ctx)
}

// Machine returns a fresh handle to the named machine.
func (e *Environment) Machine(ctx context.Context, name string) (Machine, error) {
	return e.backend.Machine(ctx, name)
}

// PrimaryMachine returns a fresh handle to the designated primary machine.
func (e *Environment) PrimaryMachine(ctx context.Context) (Machine, error) {
	name, err := e.backend.PrimaryMachineName(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to determine primary machine: %w", err)
	}
	return e.backend.Machine(ctx, name)
}

// Close releases backend resources.
func (e *Environment) Close() error {
	return e.backend.Close()
}
