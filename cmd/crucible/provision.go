package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/internal/step"
	"github.com/jbweber/crucible/internal/topology"
	"github.com/jbweber/crucible/internal/ui"
)

func newProvisionCmd(opts *globalOptions) *cobra.Command {
	var f envFlags

	cmd := &cobra.Command{
		Use:   "provision [machine]",
		Short: "Run the provisioners on running machines",
		Long: `Run the Cruciblefile provisioners again on every running machine of the
environment, or only on the named machine.

Examples:
  crucible provision
  crucible provision web`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			env, _, err := opts.openBackend(ctx, &f)
			if err != nil {
				return err
			}
			defer closeEnv(env)

			if len(args) == 1 {
				if err := env.Provision(ctx, args[0]); err != nil {
					return fmt.Errorf("failed to provision %s: %w", args[0], err)
				}
				return nil
			}

			topo, err := topology.Resolve(ctx, env)
			if err != nil {
				return fmt.Errorf("failed to resolve machines: %w", err)
			}
			return haltExit(step.Provision(ctx, env, topo, ui.NewStreamListener(os.Stdout, os.Stderr)))
		},
	}
	f.register(cmd)
	return cmd
}
