package vm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/digitalocean/go-libvirt"
	"go.uber.org/zap"

	"github.com/jbweber/crucible/internal/naming"
	"github.com/jbweber/crucible/internal/ui"
)

// Destroy removes every machine of the environment, last machine first.
// Domains that do not exist or belong to another workspace are skipped.
// Unless force is set every machine is confirmed through the UI first; a
// failed prompt stops the destroy.
func (b *Backend) Destroy(ctx context.Context, force bool) error {
	var errs []error
	machines := b.env.Spec.Machines
	for i := len(machines) - 1; i >= 0; i-- {
		m := &machines[i]
		u := b.machineUI(m)
		name := b.domainName(m)

		dom, found, err := b.lookupDomain(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy %s: %w", m.Name, err))
			continue
		}
		if !found {
			u.Info("Machine not created. Skipping.")
			continue
		}
		if err := b.checkOwner(dom); err != nil {
			u.Warn(fmt.Sprintf("Skipping: %v", err))
			continue
		}

		if !force {
			ok, err := confirmDestroy(u, m.Name)
			if err != nil {
				return errors.Join(append(errs, err)...)
			}
			if !ok {
				u.Info("Machine will not be destroyed, since the confirmation was declined.")
				continue
			}
		}

		u.Info("Destroying machine...")
		if err := b.destroyDomain(ctx, dom, force); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy %s: %w", m.Name, err))
			continue
		}
		u.Success("Machine destroyed.")
	}
	return errors.Join(errs...)
}

func confirmDestroy(u ui.UI, machine string) (bool, error) {
	answer, err := u.Ask(fmt.Sprintf("Are you sure you want to destroy the '%s' VM? [y/N] ", machine))
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// destroyDomain stops dom, undefines it and deletes its volumes. Without
// force a running domain gets a graceful shutdown first.
func (b *Backend) destroyDomain(ctx context.Context, dom libvirt.Domain, force bool) error {
	log := b.logger.With(zap.String("domain", dom.Name))

	// Step 1: Check state
	state, _, err := b.lv.DomainGetState(dom, 0)
	if err != nil {
		return fmt.Errorf("failed to get domain state: %w", err)
	}
	running := libvirt.DomainState(state) != libvirt.DomainShutoff

	// Step 2: Graceful shutdown if running
	if running && !force {
		log.Info("attempting graceful shutdown", zap.Duration("timeout", b.shutdownTimeout))
		if err := b.lv.DomainShutdown(dom); err != nil {
			log.Warn("graceful shutdown failed", zap.Error(err))
		} else if b.waitForShutoff(ctx, dom) {
			running = false
		}
	}

	// Step 3: Force destroy if still running
	if running {
		log.Info("force destroying domain")
		if err := b.lv.DomainDestroy(dom); err != nil {
			log.Warn("force destroy failed", zap.Error(err))
		}
	}

	// Step 4: Undefine domain with NVRAM cleanup
	log.Info("undefining domain")
	if err := b.lv.DomainUndefineFlags(dom, libvirt.DomainUndefineNvram); err != nil {
		return fmt.Errorf("failed to undefine domain: %w", err)
	}

	// Step 5: Delete storage volumes
	deleted, err := b.sm.DeleteVolumesWithPrefix(ctx, b.pool(), naming.VolumePrefix(dom.Name))
	if err != nil {
		return fmt.Errorf("failed to delete volumes: %w", err)
	}
	log.Info("domain destroyed", zap.Int("volumes", len(deleted)))
	return nil
}

// waitForShutoff polls until dom is shut off or the shutdown timeout passes.
func (b *Backend) waitForShutoff(ctx context.Context, dom libvirt.Domain) bool {
	shutdownCtx, cancel := context.WithTimeout(ctx, b.shutdownTimeout)
	defer cancel()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdownCtx.Done():
			b.logger.Info("graceful shutdown timed out", zap.String("domain", dom.Name))
			return false
		case <-ticker.C:
			state, _, err := b.lv.DomainGetState(dom, 0)
			if err != nil {
				b.logger.Warn("failed to check shutdown state", zap.String("domain", dom.Name), zap.Error(err))
				return false
			}
			if libvirt.DomainState(state) == libvirt.DomainShutoff {
				return true
			}
		}
	}
}
