package vm

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/cloudinit"
	"github.com/jbweber/crucible/internal/environment"
	crucibleLibvirt "github.com/jbweber/crucible/internal/libvirt"
	"github.com/jbweber/crucible/internal/metadata"
	"github.com/jbweber/crucible/internal/naming"
	"github.com/jbweber/crucible/internal/ssh"
	"github.com/jbweber/crucible/internal/storage"
	"github.com/jbweber/crucible/internal/ui"
)

// Up boots every machine in declaration order. Machines that are already
// running are left alone; defined but stopped machines are started; missing
// machines are created, started and provisioned.
func (b *Backend) Up(ctx context.Context) error {
	b.logger.Info("ensuring storage pools")
	if err := b.sm.EnsureDefaultPools(ctx); err != nil {
		return fmt.Errorf("failed to ensure storage pools: %w", err)
	}

	for i := range b.env.Spec.Machines {
		if err := b.upMachine(ctx, &b.env.Spec.Machines[i]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) upMachine(ctx context.Context, m *v1alpha1.MachineSpec) error {
	u := b.machineUI(m)
	name := b.domainName(m)

	dom, found, err := b.lookupDomain(name)
	if err != nil {
		return err
	}
	if !found {
		return b.createMachine(ctx, m, name)
	}

	if err := b.checkOwner(dom); err != nil {
		return err
	}

	state, _, err := b.lv.DomainGetState(dom, 0)
	if err != nil {
		return fmt.Errorf("failed to get state of %s: %w", name, err)
	}
	if machineState(state) == environment.StateRunning {
		u.Info("Machine already running.")
		return nil
	}

	u.Info(fmt.Sprintf("Starting domain %s...", name))
	if err := b.lv.DomainCreate(dom); err != nil {
		return fmt.Errorf("failed to start domain %s: %w", name, err)
	}
	return b.waitForSSH(ctx, m, u)
}

// checkOwner refuses to touch domains created from another workspace.
func (b *Backend) checkOwner(dom libvirt.Domain) error {
	rec, err := metadata.Load(b.lv, dom)
	if err != nil {
		return fmt.Errorf("domain %s exists but is not managed by crucible: %w", dom.Name, err)
	}
	if !rec.OwnedBy(b.dir) {
		return fmt.Errorf("domain %s belongs to workspace %s", dom.Name, rec.Workdir)
	}
	return nil
}

// createMachine creates the volumes and domain of m, boots it and runs its
// provisioners. Anything created is removed again if a step fails.
func (b *Backend) createMachine(ctx context.Context, m *v1alpha1.MachineSpec, name string) error {
	u := b.machineUI(m)
	pool := b.pool()
	log := b.logger.With(zap.String("machine", m.Name), zap.String("domain", name))

	var (
		domainDefined  bool
		storageCreated bool
	)

	var createErr error
	defer func() {
		if createErr != nil {
			b.cleanup(context.WithoutCancel(ctx), name, domainDefined, storageCreated)
		}
	}()

	// Step 1: Check the base image
	imagePool := m.BootDisk.GetImagePool()
	exists, err := b.sm.VolumeExists(ctx, imagePool, m.BootDisk.Image)
	if err != nil {
		createErr = fmt.Errorf("failed to check base image %s: %w", m.BootDisk.Image, err)
		return createErr
	}
	if !exists {
		createErr = fmt.Errorf("base image %s not found in pool %s", m.BootDisk.Image, imagePool)
		return createErr
	}

	u.Info(fmt.Sprintf("Creating domain %s from %s...", name, m.BootDisk.Image))

	// Step 2: Boot disk
	log.Info("creating boot disk", zap.Int("sizeGB", m.BootDisk.SizeGB))
	storageCreated = true
	createErr = b.sm.CreateVolume(ctx, pool, storage.VolumeSpec{
		Name:          naming.VolumeNameBoot(name),
		Type:          storage.VolumeTypeBoot,
		Format:        storage.VolumeFormatQCOW2,
		CapacityGB:    uint64(m.BootDisk.SizeGB),
		BackingPool:   imagePool,
		BackingVolume: m.BootDisk.Image,
		BackingFormat: storage.VolumeFormat(m.BootDisk.GetFormat()),
	})
	if createErr != nil {
		return fmt.Errorf("failed to create boot disk: %w", createErr)
	}

	// Step 3: Data disks
	for _, d := range m.DataDisks {
		log.Info("creating data disk", zap.String("device", d.Device), zap.Int("sizeGB", d.SizeGB))
		createErr = b.sm.CreateVolume(ctx, pool, storage.VolumeSpec{
			Name:       naming.VolumeNameData(name, d.Device),
			Type:       storage.VolumeTypeData,
			Format:     storage.VolumeFormatQCOW2,
			CapacityGB: uint64(d.SizeGB),
		})
		if createErr != nil {
			return fmt.Errorf("failed to create data disk %s: %w", d.Device, createErr)
		}
	}

	// Step 4: Cloud-init seed
	log.Info("generating cloud-init seed")
	var iso []byte
	iso, createErr = b.seedISO(m, name)
	if createErr != nil {
		return createErr
	}
	createErr = b.sm.CreateVolume(ctx, pool, storage.VolumeSpec{
		Name:          naming.VolumeNameCloudInit(name),
		Type:          storage.VolumeTypeCloudInit,
		Format:        storage.VolumeFormatRaw,
		CapacityBytes: uint64(len(iso)),
	})
	if createErr != nil {
		return fmt.Errorf("failed to create cloud-init volume: %w", createErr)
	}
	if createErr = b.sm.WriteVolumeData(ctx, pool, naming.VolumeNameCloudInit(name), iso); createErr != nil {
		return fmt.Errorf("failed to write cloud-init seed: %w", createErr)
	}

	// Step 5: Define the domain
	log.Info("defining domain")
	var domainXML string
	domainXML, createErr = crucibleLibvirt.GenerateDomainXML(crucibleLibvirt.DomainParams{
		Name:     name,
		UUID:     uuid.NewString(),
		Type:     b.profile.DomainType,
		Firmware: b.profile.Firmware,
		Pool:     pool,
		Machine:  m,
		Seed:     true,
	})
	if createErr != nil {
		return fmt.Errorf("failed to generate domain XML: %w", createErr)
	}
	var dom libvirt.Domain
	dom, createErr = b.lv.DomainDefineXML(domainXML)
	if createErr != nil {
		return fmt.Errorf("failed to define domain: %w", createErr)
	}
	domainDefined = true

	createErr = metadata.Store(b.lv, dom, &metadata.MachineRecord{
		Environment: b.env.Name,
		Machine:     m.Name,
		Workdir:     b.dir,
		RunID:       b.runID,
		Created:     v1alpha1.NewTime(time.Now()),
	})
	if createErr != nil {
		return fmt.Errorf("failed to store domain metadata: %w", createErr)
	}

	// Step 6: Start and wait for SSH
	log.Info("starting domain")
	if createErr = b.lv.DomainCreate(dom); createErr != nil {
		return fmt.Errorf("failed to start domain: %w", createErr)
	}
	if createErr = b.waitForSSH(ctx, m, u); createErr != nil {
		return createErr
	}

	// Step 7: Provision
	if createErr = b.provisionMachine(ctx, m); createErr != nil {
		return createErr
	}

	u.Success(fmt.Sprintf("Machine %s created.", m.Name))
	return nil
}

func (b *Backend) seedISO(m *v1alpha1.MachineSpec, name string) ([]byte, error) {
	signer, err := b.sshSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key: %w", err)
	}
	in, err := cloudinit.InputFor(name+"-"+b.runID, m, b.env.GetSSHUser(), []string{ssh.AuthorizedKey(signer.PublicKey())})
	if err != nil {
		return nil, fmt.Errorf("failed to build cloud-init input: %w", err)
	}
	iso, err := cloudinit.GenerateISO(in)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cloud-init ISO: %w", err)
	}
	return iso, nil
}

func (b *Backend) waitForSSH(ctx context.Context, m *v1alpha1.MachineSpec, u ui.UI) error {
	comm, err := b.communicator(m)
	if err != nil {
		return err
	}
	timeout := b.env.GetBootTimeout()
	u.Info(fmt.Sprintf("Waiting up to %s for SSH on %s...", timeout, m.GetSSHHost()))
	if err := comm.AwaitServer(ctx, timeout); err != nil {
		return fmt.Errorf("machine %s did not become reachable: %w", m.Name, err)
	}
	u.Info("Machine booted and ready!")
	return nil
}

// cleanup removes what a failed createMachine left behind.
//
// This is best-effort: it logs errors but continues trying to clean up
// as much as possible. It never returns an error.
func (b *Backend) cleanup(ctx context.Context, name string, domainDefined, storageCreated bool) {
	log := b.logger.With(zap.String("domain", name))
	log.Info("cleaning up after failed machine creation")

	if domainDefined {
		dom, err := b.lv.DomainLookupByName(name)
		if err != nil {
			log.Warn("failed to lookup domain for cleanup", zap.Error(err))
		} else {
			if err := b.lv.DomainDestroy(dom); err != nil {
				log.Debug("domain was not running", zap.Error(err))
			}
			if err := b.lv.DomainUndefineFlags(dom, libvirt.DomainUndefineNvram); err != nil {
				log.Warn("failed to undefine domain", zap.Error(err))
			}
		}
	}

	if storageCreated {
		deleted, err := b.sm.DeleteVolumesWithPrefix(ctx, b.pool(), naming.VolumePrefix(name))
		if err != nil {
			log.Warn("failed to delete volumes", zap.Error(err))
		}
		log.Info("cleanup complete", zap.Strings("deleted", deleted))
	}
}
