package vm

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/environment"
)

// machine is the environment.Machine view of one domain.
type machine struct {
	b      *Backend
	spec   *v1alpha1.MachineSpec
	domain string
}

func (m *machine) Name() string { return m.spec.Name }

// lookupDomain reports found=false only when libvirt says the domain does
// not exist. Any other lookup failure is returned.
func (b *Backend) lookupDomain(name string) (libvirt.Domain, bool, error) {
	dom, err := b.lv.DomainLookupByName(name)
	switch {
	case err == nil:
		return dom, true, nil
	case libvirt.IsNotFound(err):
		return libvirt.Domain{}, false, nil
	default:
		return libvirt.Domain{}, false, fmt.Errorf("failed to look up domain %s: %w", name, err)
	}
}

// State reports not_created when the domain is not defined.
func (m *machine) State(context.Context) (environment.MachineState, error) {
	dom, found, err := m.b.lookupDomain(m.domain)
	if err != nil {
		return environment.StateUnknown, err
	}
	if !found {
		return environment.StateNotCreated, nil
	}
	state, _, err := m.b.lv.DomainGetState(dom, 0)
	if err != nil {
		return environment.StateUnknown, fmt.Errorf("failed to get state of %s: %w", m.domain, err)
	}
	return machineState(state), nil
}

func (m *machine) Communicator() environment.Communicator {
	c, err := m.b.communicator(m.spec)
	if err != nil {
		return failingCommunicator{err: err}
	}
	return c
}

// failingCommunicator reports a communicator setup error on every call.
type failingCommunicator struct{ err error }

func (f failingCommunicator) Execute(context.Context, string, bool, environment.OutputFunc) (int, error) {
	return -1, f.err
}

// machineState maps a libvirt domain state onto a machine state.
func machineState(state int32) environment.MachineState {
	switch libvirt.DomainState(state) {
	case libvirt.DomainRunning, libvirt.DomainBlocked:
		return environment.StateRunning
	case libvirt.DomainPaused:
		return environment.StatePaused
	case libvirt.DomainShutdown:
		return environment.StateShutdown
	case libvirt.DomainShutoff:
		return environment.StateStopped
	case libvirt.DomainCrashed:
		return environment.StateCrashed
	case libvirt.DomainPmsuspended:
		return environment.StateSuspended
	default:
		return environment.StateUnknown
	}
}
