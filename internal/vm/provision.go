package vm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/environment"
)

// Provision runs the provisioners of the named machine, or of every machine
// in declaration order when name is empty. Machines must be running.
func (b *Backend) Provision(ctx context.Context, name string) error {
	var targets []*v1alpha1.MachineSpec
	if name == "" {
		for i := range b.env.Spec.Machines {
			targets = append(targets, &b.env.Spec.Machines[i])
		}
	} else {
		m, err := b.env.Machine(name)
		if err != nil {
			return err
		}
		targets = append(targets, m)
	}

	for _, m := range targets {
		mach := &machine{b: b, spec: m, domain: b.domainName(m)}
		state, err := mach.State(ctx)
		if err != nil {
			return err
		}
		if state != environment.StateRunning {
			return fmt.Errorf("machine %s is not running (state %s)", m.Name, state)
		}
		if err := b.provisionMachine(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) provisionMachine(ctx context.Context, m *v1alpha1.MachineSpec) error {
	provisioners := b.env.ProvisionersFor(m)
	if len(provisioners) == 0 {
		return nil
	}

	u := b.machineUI(m)
	comm, err := b.communicator(m)
	if err != nil {
		return err
	}

	for i, p := range provisioners {
		label := provisionerLabel(i, p)
		script, err := b.provisionerScript(p)
		if err != nil {
			return fmt.Errorf("provisioner %s: %w", label, err)
		}

		u.Info(fmt.Sprintf("Running provisioner: %s...", label))
		status, err := comm.Execute(ctx, script, p.Privileged, func(kind environment.StreamKind, data []byte) {
			msg := strings.TrimRight(string(data), "\n")
			if kind == environment.Stderr {
				u.Error(msg)
				return
			}
			u.Info(msg)
		})
		if err != nil {
			return fmt.Errorf("provisioner %s failed: %w", label, err)
		}
		if status != 0 {
			return fmt.Errorf("provisioner %s exited with status %d", label, status)
		}
	}
	return nil
}

func (b *Backend) provisionerScript(p v1alpha1.ProvisionerSpec) (string, error) {
	if p.Inline != "" {
		return p.Inline, nil
	}
	path := p.Script
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

func provisionerLabel(i int, p v1alpha1.ProvisionerSpec) string {
	if p.Name != "" {
		return p.Name
	}
	if p.Script != "" {
		return p.Script
	}
	return fmt.Sprintf("shell-%d", i+1)
}
