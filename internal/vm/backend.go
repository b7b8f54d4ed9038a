package vm

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	gossh "golang.org/x/crypto/ssh"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/descriptor"
	"github.com/jbweber/crucible/internal/environment"
	crucibleLibvirt "github.com/jbweber/crucible/internal/libvirt"
	"github.com/jbweber/crucible/internal/naming"
	"github.com/jbweber/crucible/internal/ssh"
	"github.com/jbweber/crucible/internal/storage"
	"github.com/jbweber/crucible/internal/ui"
)

const (
	// defaultShutdownTimeout is how long Destroy waits for a guest to power
	// off before pulling the plug.
	defaultShutdownTimeout = 30 * time.Second

	defaultConnectTimeout = 10 * time.Second
)

// Backend drives one environment through libvirt.
type Backend struct {
	dir     string
	env     *v1alpha1.Environment
	profile crucibleLibvirt.Profile
	runID   string

	lv     libvirtClient
	sm     storageManager
	ui     ui.UI
	logger *zap.Logger
	closer io.Closer

	shutdownTimeout time.Duration
	pollInterval    time.Duration
	newComm         func(ssh.Config) communicator

	signerOnce sync.Once
	signer     gossh.Signer
	signerErr  error
}

// Option customizes a Backend.
type Option func(*Backend)

// WithShutdownTimeout sets the graceful shutdown wait of Destroy.
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Backend) { b.shutdownTimeout = d }
}

// WithCloser closes c when the backend is closed.
func WithCloser(c io.Closer) Option {
	return func(b *Backend) { b.closer = c }
}

// New returns a Backend for env, loaded from dir.
func New(dir string, env *v1alpha1.Environment, profile crucibleLibvirt.Profile, lv libvirtClient, sm storageManager, u ui.UI, logger *zap.Logger, opts ...Option) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backend{
		dir:             dir,
		env:             env,
		profile:         profile,
		runID:           uuid.NewString(),
		lv:              lv,
		sm:              sm,
		ui:              u,
		logger:          logger.With(zap.String("environment", env.Name), zap.String("dir", dir)),
		shutdownTimeout: defaultShutdownTimeout,
		pollInterval:    500 * time.Millisecond,
	}
	b.newComm = func(cfg ssh.Config) communicator { return ssh.New(cfg, b.logger) }
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Opener returns an environment.Opener backed by OpenBackend.
func Opener(logger *zap.Logger) environment.Opener {
	return func(ctx context.Context, dir, provider string, u ui.UI) (environment.Backend, error) {
		return OpenBackend(ctx, dir, provider, u, logger)
	}
}

// OpenBackend loads the Cruciblefile in dir and connects to the provider's
// libvirt daemon.
func OpenBackend(ctx context.Context, dir, provider string, u ui.UI, logger *zap.Logger) (*Backend, error) {
	profile, err := crucibleLibvirt.ProfileFor(provider)
	if err != nil {
		return nil, err
	}

	env, err := descriptor.Load(dir)
	if err != nil {
		return nil, err
	}

	client, err := crucibleLibvirt.ConnectWithContext(ctx, profile, defaultConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", profile.URI, err)
	}

	sm := storage.NewManager(client.Libvirt(), logger)
	return New(dir, env, profile, client.Libvirt(), sm, u, logger, WithCloser(client)), nil
}

// RunID identifies this backend's run in domain metadata.
func (b *Backend) RunID() string { return b.runID }

// Environment returns the loaded descriptor.
func (b *Backend) Environment() *v1alpha1.Environment { return b.env }

// Version implements environment.Backend.
func (b *Backend) Version(context.Context) (string, error) {
	v, err := b.lv.ConnectGetLibVersion()
	if err != nil {
		return "", fmt.Errorf("failed to get libvirt version: %w", err)
	}
	return crucibleLibvirt.FormatVersion(v), nil
}

// MachineNames implements environment.Backend.
func (b *Backend) MachineNames(context.Context) ([]string, error) {
	return b.env.MachineNames(), nil
}

// PrimaryMachineName implements environment.Backend.
func (b *Backend) PrimaryMachineName(context.Context) (string, error) {
	name := b.env.PrimaryName()
	if name == "" {
		return "", fmt.Errorf("environment %s has no machines", b.env.Name)
	}
	return name, nil
}

// Machine implements environment.Backend.
func (b *Backend) Machine(_ context.Context, name string) (environment.Machine, error) {
	spec, err := b.env.Machine(name)
	if err != nil {
		return nil, err
	}
	return &machine{b: b, spec: spec, domain: b.domainName(spec)}, nil
}

// Close implements environment.Backend.
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

func (b *Backend) domainName(m *v1alpha1.MachineSpec) string {
	return naming.DomainName(b.env.Name, b.dir, m.Name)
}

func (b *Backend) pool() string {
	return b.env.GetStoragePool()
}

func (b *Backend) machineUI(m *v1alpha1.MachineSpec) ui.UI {
	return b.ui.Scope(m.Name)
}

// sshSigner loads the configured private key, or the environment's
// generated key when none is configured.
func (b *Backend) sshSigner() (gossh.Signer, error) {
	b.signerOnce.Do(func() {
		if path := b.env.Spec.SSH.PrivateKeyPath; path != "" {
			if !filepath.IsAbs(path) {
				path = filepath.Join(b.dir, path)
			}
			b.signer, b.signerErr = ssh.LoadSigner(path)
			return
		}
		b.signer, b.signerErr = ssh.NewKeyManager(b.dir).Signer()
	})
	return b.signer, b.signerErr
}

func (b *Backend) communicator(m *v1alpha1.MachineSpec) (communicator, error) {
	signer, err := b.sshSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key: %w", err)
	}
	return b.newComm(ssh.Config{
		Host:   m.GetSSHHost(),
		Port:   b.env.GetSSHPort(),
		User:   b.env.GetSSHUser(),
		Signer: signer,
	}), nil
}
