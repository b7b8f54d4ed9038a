// Package pipeline runs a job: setup, each step in order, then teardown.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jbweber/crucible/internal/build"
	"github.com/jbweber/crucible/internal/config"
	"github.com/jbweber/crucible/internal/metrics"
	"github.com/jbweber/crucible/internal/step"
	"github.com/jbweber/crucible/internal/topology"
	"github.com/jbweber/crucible/internal/ui"
)

// hooks is the setup/teardown pair a run is wrapped in.
type hooks interface {
	Setup(ctx context.Context, b *build.Build, l ui.Listener) error
	Teardown(ctx context.Context, b *build.Build, l ui.Listener)
}

// Runner executes one job.
type Runner struct {
	job     *config.Job
	hooks   hooks
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// New returns a Runner for job. logger and m may be nil.
func New(job *config.Job, lc hooks, logger *zap.Logger, m *metrics.Recorder) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{job: job, hooks: lc, logger: logger, metrics: m}
}

// Run boots the environment, runs every step until the first failure and
// always tears down what was booted. It returns the final build result.
func (r *Runner) Run(ctx context.Context, b *build.Build, l ui.Listener) build.Result {
	b.State.SetDisableDestroy(r.job.DisableDestroy)

	if err := r.hooks.Setup(ctx, b, l); err != nil {
		r.report(b, l, err)
		return b.Result()
	}
	defer r.hooks.Teardown(context.WithoutCancel(ctx), b, l)

	for i := range r.job.Steps {
		s := &r.job.Steps[i]
		name := s.DisplayName(i)
		start := time.Now()

		err := r.runStep(ctx, b, s, l)
		r.metrics.Step(string(s.Kind()), err == nil)
		r.logger.Info("step finished",
			zap.String("run", b.ID),
			zap.String("step", name),
			zap.String("kind", string(s.Kind())),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))

		if err != nil {
			r.report(b, l, err)
			return b.Result()
		}
		b.State.MarkDirty()
	}
	return b.Result()
}

func (r *Runner) runStep(ctx context.Context, b *build.Build, s *config.Step, l ui.Listener) error {
	env, ok := b.State.Environment()
	if !ok {
		return fmt.Errorf("no environment was published for this run")
	}

	topo, err := topology.Resolve(ctx, env)
	if err != nil {
		return fmt.Errorf("failed to resolve machines: %w", err)
	}

	switch s.Kind() {
	case config.StepProvision:
		return step.Provision(ctx, env, topo, l)
	default:
		return step.Execute(ctx, step.NewCommand(s.Command, s.Elevate), topo, l)
	}
}

func (r *Runner) report(b *build.Build, l ui.Listener, err error) {
	b.SetResult(build.ResultOf(err))
	l.Error(err.Error())
}
