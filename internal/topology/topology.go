// Package topology resolves which machines an operation targets.
package topology

import (
	"context"
	"errors"
	"fmt"

	"github.com/jbweber/crucible/internal/environment"
)

// ErrNoMachines is returned when the environment defines no machines.
var ErrNoMachines = errors.New("environment defines no machines")

// Kind distinguishes single from multi-machine environments.
type Kind int

const (
	Single Kind = iota
	Multi
)

func (k Kind) String() string {
	if k == Multi {
		return "multi"
	}
	return "single"
}

// Topology is the ordered set of machines an operation runs against.
type Topology struct {
	kind     Kind
	machines []environment.Machine
}

// NewSingle returns a single-machine topology.
func NewSingle(m environment.Machine) Topology {
	return Topology{kind: Single, machines: []environment.Machine{m}}
}

// NewMulti returns a multi-machine topology in the given order.
func NewMulti(machines ...environment.Machine) Topology {
	return Topology{kind: Multi, machines: machines}
}

// Kind returns the topology kind.
func (t Topology) Kind() Kind { return t.kind }

// IsMulti reports whether more than one machine is targeted.
func (t Topology) IsMulti() bool { return t.kind == Multi }

// Machines returns the targeted machines in execution order.
func (t Topology) Machines() []environment.Machine {
	out := make([]environment.Machine, len(t.machines))
	copy(out, t.machines)
	return out
}

// source is the part of an environment the resolver reads.
type source interface {
	MachineNames(ctx context.Context) ([]string, error)
	Machine(ctx context.Context, name string) (environment.Machine, error)
	PrimaryMachine(ctx context.Context) (environment.Machine, error)
}

// Resolve enumerates the environment's machines. It never caches: every call
// asks the environment again so that later state checks are fresh.
func Resolve(ctx context.Context, env source) (Topology, error) {
	names, err := env.MachineNames(ctx)
	if err != nil {
		return Topology{}, fmt.Errorf("failed to list machines: %w", err)
	}

	switch len(names) {
	case 0:
		return Topology{}, ErrNoMachines
	case 1:
		m, err := env.PrimaryMachine(ctx)
		if err != nil {
			return Topology{}, fmt.Errorf("failed to load primary machine: %w", err)
		}
		return NewSingle(m), nil
	}

	machines := make([]environment.Machine, 0, len(names))
	for _, name := range names {
		m, err := env.Machine(ctx, name)
		if err != nil {
			return Topology{}, fmt.Errorf("failed to load machine %s: %w", name, err)
		}
		machines = append(machines, m)
	}
	return NewMulti(machines...), nil
}
