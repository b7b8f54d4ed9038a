package step

import (
	"context"
	"fmt"

	"github.com/jbweber/crucible/internal/build"
	"github.com/jbweber/crucible/internal/environment"
	"github.com/jbweber/crucible/internal/topology"
	"github.com/jbweber/crucible/internal/ui"
)

// Execute runs cmd on every machine of topo in order, stopping at the first
// machine that is not running or the first nonzero exit.
//
// Remote stdout goes to l.Info and stderr to l.Error, chunk by chunk, in the
// order the communicator delivers them.
func Execute(ctx context.Context, cmd Command, topo topology.Topology, l ui.Listener) error {
	for _, m := range topo.Machines() {
		if err := requireRunning(ctx, m); err != nil {
			return err
		}

		if topo.IsMulti() {
			l.Info(fmt.Sprintf("Running the command in crucible on VM %s with %q:", m.Name(), cmd.Mode.String()))
		} else {
			l.Info(fmt.Sprintf("Running the command in crucible with %q:", cmd.Mode.String()))
		}
		for _, line := range cmd.Lines() {
			l.Info("+ " + line)
		}

		status, err := m.Communicator().Execute(ctx, cmd.Script, cmd.Sudo(), forward(l))
		if err != nil {
			halt := build.Halt(build.ErrCommand, "Command failed on %s: %v", m.Name(), err).WithCause(err)
			halt.Machine = m.Name()
			return halt
		}
		if status != 0 {
			l.Error(fmt.Sprintf("Command exited with status %d", status))
			halt := build.Halt(build.ErrCommand, "Command failed!")
			halt.Machine = m.Name()
			halt.ExitStatus = status
			return halt
		}
	}
	return nil
}

func forward(l ui.Listener) environment.OutputFunc {
	return func(kind environment.StreamKind, data []byte) {
		if kind == environment.Stderr {
			l.Error(string(data))
			return
		}
		l.Info(string(data))
	}
}

// requireRunning halts unless m is running. No remote call is made otherwise.
func requireRunning(ctx context.Context, m environment.Machine) error {
	state, err := m.State(ctx)
	if err != nil {
		halt := build.Halt(build.ErrMachineState, "Failed to read the state of VM %s: %v", m.Name(), err).WithCause(err)
		halt.Machine = m.Name()
		halt.MachineState = environment.StateUnknown
		return halt
	}
	if state != environment.StateRunning {
		halt := build.Halt(build.ErrMachineState, "VM %s doesn't appear to be running! State is %s", m.Name(), state)
		halt.Machine = m.Name()
		halt.MachineState = state
		return halt
	}
	return nil
}
