// Package lifecycle boots an environment before a build's steps run and
// destroys it afterwards.
//
// Boot runs inside a host-wide lock because the virtualization backend cannot
// import images or start machines for two builds at once. A failed boot is
// force-destroyed before the run halts so machines are never left behind.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jbweber/crucible/internal/build"
	"github.com/jbweber/crucible/internal/descriptor"
	"github.com/jbweber/crucible/internal/environment"
	"github.com/jbweber/crucible/internal/hostlock"
	"github.com/jbweber/crucible/internal/metrics"
	"github.com/jbweber/crucible/internal/status"
	"github.com/jbweber/crucible/internal/ui"
)

// Options configures a Manager.
type Options struct {
	// DescriptorPath is relative to the build workspace. Empty means the
	// workspace itself.
	DescriptorPath string
	// Provider selects the virtualization provider. Empty means the default.
	Provider string
	// LockPath overrides the host lock file.
	LockPath string
	// Open loads the backend for a descriptor directory.
	Open environment.Opener

	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

// Manager drives setup and teardown for one run.
type Manager struct {
	opts    Options
	lock    *hostlock.Lock
	tracker *status.Tracker
	logger  *zap.Logger
}

// New returns a Manager for one run.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		opts:    opts,
		lock:    hostlock.New(opts.LockPath, logger),
		tracker: status.NewTracker(),
		logger:  logger,
	}
}

// Phase returns the environment's current lifecycle phase.
func (m *Manager) Phase() status.Phase {
	return m.tracker.Phase()
}

// Setup boots the environment described in the build workspace and publishes
// it into the build state. Any error it returns halts the run; the build
// result has already been recorded.
func (m *Manager) Setup(ctx context.Context, b *build.Build, l ui.Listener) error {
	err := m.setup(ctx, b, l)
	if err != nil {
		b.SetResult(build.ResultOf(err))
	}
	return err
}

func (m *Manager) setup(ctx context.Context, b *build.Build, l ui.Listener) error {
	dir, err := descriptor.Locate(b.Workspace, m.opts.DescriptorPath)
	if err != nil {
		m.transition(m.tracker.TransitionToAborted("DescriptorInvalid", err.Error()))
		return build.Halt(build.ErrConfiguration, "%v", err).WithCause(err)
	}

	if !descriptor.Exists(dir) {
		l.Info(fmt.Sprintf("There is no %s in your workspace!", descriptor.FileName))
		l.Info("We looked in: " + dir)
		m.transition(m.tracker.TransitionToAborted("DescriptorMissing", dir))
		halt := build.Halt(build.ErrConfiguration, "no %s found in %s", descriptor.FileName, dir)
		halt.Result = build.ResultNotBuilt
		return halt
	}

	provider := environment.NormalizeProvider(m.opts.Provider)
	env, err := environment.Open(ctx, m.opts.Open, dir, provider, ui.NewConsole(l))
	if err != nil {
		m.transition(m.tracker.TransitionToAborted("OpenFailed", err.Error()))
		return build.Halt(build.ErrConfiguration, "ERROR: %v", err).WithCause(err)
	}

	version, err := env.Version(ctx)
	if err != nil {
		m.logger.Warn("failed to query backend version", zap.Error(err))
		version = "unknown"
	}
	l.Info("Running crucible with version: " + version)
	l.Info("Crucible in: " + dir)
	l.Info("Crucible provider: " + provider)
	l.Info(fmt.Sprintf("%s loaded, bringing the machines up for the build", descriptor.FileName))

	m.transition(m.tracker.TransitionToBooting())
	if err := m.boot(ctx, env, l); err != nil {
		m.closeEnv(env)
		return err
	}

	if err := b.State.Publish(env, provider); err != nil {
		m.logger.Error("failed to publish environment", zap.String("dir", env.Dir), zap.Error(err))
		l.Info("**********Something went wrong! Destroying the crucible machines************")
		m.transition(m.tracker.TransitionToDestroying("PublishFailed"))
		m.forceDestroy(ctx, env, l)
		m.transition(m.tracker.TransitionToAborted("PublishFailed", err.Error()))
		m.closeEnv(env)
		return build.Halt(build.ErrBoot, "ERROR: failed to publish environment: %v", err).WithCause(err)
	}
	m.transition(m.tracker.TransitionToReady())
	l.Info("Crucible box is online, continuing with the build")
	return nil
}

// boot runs Up under the host lock. On failure the environment is destroyed
// before the lock is released.
func (m *Manager) boot(ctx context.Context, env *environment.Environment, l ui.Listener) error {
	release, waited, err := m.lock.Acquire(ctx)
	m.opts.Metrics.LockWait(waited)
	if err != nil {
		m.transition(m.tracker.TransitionToDestroying("LockFailed"))
		m.transition(m.tracker.TransitionToAborted("LockFailed", err.Error()))
		return build.Halt(build.ErrBoot, "ERROR: %v", err).WithCause(err)
	}
	defer release()

	if waited > time.Second {
		l.Info(fmt.Sprintf("Waited %s for the host boot lock", waited.Round(time.Second)))
	}

	start := time.Now()
	err = env.Up(ctx)
	m.opts.Metrics.Boot(err == nil, time.Since(start))
	if err == nil {
		return nil
	}

	m.logger.Error("boot failed", zap.String("dir", env.Dir), zap.Error(err))
	l.Info(fmt.Sprintf("%+v", err))
	l.Info("**********Something went wrong! Destroying the crucible machines************")
	m.transition(m.tracker.TransitionToDestroying("BootFailed"))

	m.forceDestroy(ctx, env, l)
	m.transition(m.tracker.TransitionToAborted("BootFailed", err.Error()))

	return build.Halt(build.ErrBoot, "ERROR: %v", err).WithCause(err)
}

// forceDestroy destroys env after a failed setup. Its own failure is logged,
// never returned.
func (m *Manager) forceDestroy(ctx context.Context, env *environment.Environment, l ui.Listener) {
	// The run context may already be cancelled; cleanup must still happen.
	if err := env.Destroy(context.WithoutCancel(ctx), true); err != nil {
		m.logger.Warn("failed to destroy environment after setup failure", zap.Error(err))
		l.Error(fmt.Sprintf("Failed to destroy machines: %v", err))
		m.opts.Metrics.Destroy(false)
		return
	}
	m.opts.Metrics.Destroy(true)
}

// Teardown destroys the published environment unless destruction is
// disabled. It never fails the run.
func (m *Manager) Teardown(ctx context.Context, b *build.Build, l ui.Listener) {
	env, ok := b.State.Environment()
	if !ok {
		return
	}
	defer m.closeEnv(env)

	if b.State.DestroyDisabled() {
		l.Info("Build finished, destroy is disabled, leaving the machines running")
		return
	}

	l.Info("Build finished, destroying the crucible machines")
	m.transition(m.tracker.TransitionToDestroying("BuildFinished"))
	if err := env.Destroy(ctx, true); err != nil {
		m.logger.Warn("failed to destroy environment", zap.String("dir", env.Dir), zap.Error(err))
		l.Error(fmt.Sprintf("Failed to destroy machines: %v", err))
		m.opts.Metrics.Destroy(false)
		return
	}
	m.opts.Metrics.Destroy(true)
	m.transition(m.tracker.TransitionToDestroyed())
}

func (m *Manager) closeEnv(env *environment.Environment) {
	if err := env.Close(); err != nil {
		m.logger.Warn("failed to close environment", zap.Error(err))
	}
}

func (m *Manager) transition(err error) {
	if err != nil {
		m.logger.Debug("phase transition skipped", zap.String("phase", string(m.tracker.Phase())), zap.Error(err))
	}
}
