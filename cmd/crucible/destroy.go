package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDestroyCmd(opts *globalOptions) *cobra.Command {
	var (
		f     envFlags
		force bool
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Destroy the machines of an environment",
		Long: `Destroy every machine of the Cruciblefile in the descriptor directory,
last machine first.

This will:
- Ask for confirmation per machine unless --force is given
- Shut the machine down, gracefully unless --force is given
- Undefine the domain
- Delete all of its storage volumes

Machines created from another directory are never touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			env, _, err := opts.openBackend(ctx, &f)
			if err != nil {
				return err
			}
			defer closeEnv(env)

			if err := env.Destroy(ctx, force); err != nil {
				return fmt.Errorf("failed to destroy environment: %w", err)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Destroy without confirmation or graceful shutdown")
	return cmd
}
