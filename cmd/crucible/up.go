package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/internal/hostlock"
)

func newUpCmd(opts *globalOptions) *cobra.Command {
	var f envFlags

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Boot the machines of an environment",
		Long: `Boot every machine of the Cruciblefile in the descriptor directory.

Missing machines are created and provisioned, stopped machines are started
and running machines are left alone. Boot holds the host lock, like a build
does, so it never races a build on the same host.

Unlike "crucible run", a failed boot is not destroyed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			env, _, err := opts.openBackend(ctx, &f)
			if err != nil {
				return err
			}
			defer closeEnv(env)

			lock := hostlock.New(opts.lockPath, opts.logger)
			err = lock.With(ctx, func(ctx context.Context) error {
				return env.Up(ctx)
			})
			if err != nil {
				return fmt.Errorf("failed to boot environment: %w", err)
			}
			fmt.Println("✓ Environment is up")
			return nil
		},
	}
	f.register(cmd)
	return cmd
}
