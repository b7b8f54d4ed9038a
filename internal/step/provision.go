package step

import (
	"context"
	"fmt"

	"github.com/jbweber/crucible/internal/build"
	"github.com/jbweber/crucible/internal/topology"
	"github.com/jbweber/crucible/internal/ui"
)

// provisioner triggers the backend's provisioning action.
type provisioner interface {
	Provision(ctx context.Context, name string) error
}

// Provision provisions every machine of topo in order. A single-machine
// topology provisions the whole environment.
func Provision(ctx context.Context, p provisioner, topo topology.Topology, l ui.Listener) error {
	for _, m := range topo.Machines() {
		if err := requireRunning(ctx, m); err != nil {
			return err
		}

		target := ""
		if topo.IsMulti() {
			target = m.Name()
		}
		l.Info(fmt.Sprintf("Provisioning the VM %s.. (this may take a while)", m.Name()))

		if err := p.Provision(ctx, target); err != nil {
			halt := build.Halt(build.ErrProvision, "Provisioning VM %s failed: %v", m.Name(), err).WithCause(err)
			halt.Machine = m.Name()
			return halt
		}
	}
	return nil
}
