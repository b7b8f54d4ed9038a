package vm

import (
	"context"
	"fmt"
	"sort"

	"github.com/digitalocean/go-libvirt"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/metadata"
)

// Status reports every machine of the environment in declaration order.
// Machines without a domain are reported as not_created.
func (b *Backend) Status(ctx context.Context) ([]v1alpha1.MachineStatus, error) {
	out := make([]v1alpha1.MachineStatus, 0, len(b.env.Spec.Machines))
	for i := range b.env.Spec.Machines {
		m := &b.env.Spec.Machines[i]
		mach := &machine{b: b, spec: m, domain: b.domainName(m)}

		state, err := mach.State(ctx)
		if err != nil {
			return nil, err
		}
		st := v1alpha1.MachineStatus{
			Environment: b.env.Name,
			Machine:     m.Name,
			Domain:      mach.domain,
			State:       string(state),
			Address:     m.GetSSHHost(),
		}
		if dom, err := b.lv.DomainLookupByName(mach.domain); err == nil {
			if rec, err := metadata.Load(b.lv, dom); err == nil {
				st.Workdir = rec.Workdir
				st.RunID = rec.RunID
				st.Created = rec.Created
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// ListManaged lists every crucible domain on the host, from any workspace,
// sorted by environment then machine. Domains without crucible metadata are
// not reported.
func ListManaged(_ context.Context, lv libvirtClient, logger *zap.Logger) ([]v1alpha1.MachineStatus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// NeedResults 1 populates the slice, flags 0 selects active and inactive domains.
	domains, _, err := lv.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	managed := lo.Filter(domains, func(d libvirt.Domain, _ int) bool {
		return metadata.Exists(lv, d)
	})

	out := make([]v1alpha1.MachineStatus, 0, len(managed))
	for _, dom := range managed {
		st, err := domainStatus(lv, dom)
		if err != nil {
			logger.Warn("failed to get domain status", zap.String("domain", dom.Name), zap.Error(err))
			continue
		}
		out = append(out, st)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Environment != out[j].Environment {
			return out[i].Environment < out[j].Environment
		}
		return out[i].Machine < out[j].Machine
	})
	return out, nil
}

func domainStatus(lv libvirtClient, dom libvirt.Domain) (v1alpha1.MachineStatus, error) {
	rec, err := metadata.Load(lv, dom)
	if err != nil {
		return v1alpha1.MachineStatus{}, err
	}
	state, _, err := lv.DomainGetState(dom, 0)
	if err != nil {
		return v1alpha1.MachineStatus{}, fmt.Errorf("failed to get domain state: %w", err)
	}
	return v1alpha1.MachineStatus{
		Environment: rec.Environment,
		Machine:     rec.Machine,
		Domain:      dom.Name,
		State:       string(machineState(state)),
		Workdir:     rec.Workdir,
		RunID:       rec.RunID,
		Created:     rec.Created,
	}, nil
}
