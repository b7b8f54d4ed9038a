package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jbweber/crucible/internal/build"
	"github.com/jbweber/crucible/internal/config"
	"github.com/jbweber/crucible/internal/lifecycle"
	"github.com/jbweber/crucible/internal/metrics"
	"github.com/jbweber/crucible/internal/pipeline"
	"github.com/jbweber/crucible/internal/ui"
	"github.com/jbweber/crucible/internal/vm"
)

func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		workspace      string
		disableDestroy bool
		metricsFile    string
	)

	cmd := &cobra.Command{
		Use:   "run <job.yaml>",
		Short: "Run a build job",
		Long: `Run a build job: boot the environment of the workspace, run every step
of the job against it and destroy it afterwards.

The exit code is 0 when the build succeeded, 2 when it was not built because
the workspace has no Cruciblefile, and 1 otherwise.

Example job:
  descriptor_path: ci
  provider: kvm
  steps:
    - name: build
      command: make
    - name: install
      command: make install
      elevate: true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := config.LoadFromFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to load job: %w", err)
			}
			if opts.provider != "" {
				job.Provider = opts.provider
			}
			if opts.lockPath != "" {
				job.LockPath = opts.lockPath
			}
			if disableDestroy {
				job.DisableDestroy = true
			}

			if workspace == "" {
				workspace, err = os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to determine workspace: %w", err)
				}
			}
			workspace, err = filepath.Abs(workspace)
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result := runJob(ctx, job, workspace, opts.logger, metricsFile)
			if code := result.ExitCode(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "Build workspace (default current directory)")
	cmd.Flags().BoolVar(&disableDestroy, "disable-destroy", false, "Leave machines running after the build")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write run metrics to this node-exporter textfile")
	return cmd
}

func runJob(ctx context.Context, job *config.Job, workspace string, logger *zap.Logger, metricsFile string) build.Result {
	rec := metrics.New()
	listener := ui.NewStreamListener(os.Stdout, os.Stderr)
	b := build.New(workspace)
	log := logger.With(zap.String("run", b.ID))

	lc := lifecycle.New(lifecycle.Options{
		DescriptorPath: job.DescriptorPath,
		Provider:       job.Provider,
		LockPath:       job.LockPath,
		Open:           vm.Opener(log),
		Logger:         log,
		Metrics:        rec,
	})

	log.Info("starting run", zap.String("workspace", workspace), zap.Int("steps", len(job.Steps)))
	result := pipeline.New(job, lc, log, rec).Run(ctx, b, listener)
	if ctx.Err() != nil {
		b.SetResult(build.ResultAborted)
		result = b.Result()
	}
	log.Info("run finished", zap.String("result", string(result)), zap.String("phase", string(lc.Phase())))
	listener.Info("Finished: " + string(result))

	if err := rec.WriteTextfile(metricsFile); err != nil {
		log.Warn("failed to write metrics", zap.Error(err))
	}
	return result
}
