package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/environment"
	"github.com/jbweber/crucible/internal/libvirt"
	"github.com/jbweber/crucible/internal/output"
	"github.com/jbweber/crucible/internal/vm"
)

const connectTimeout = 5 * time.Second

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var (
		f         envFlags
		format    string
		noHeaders bool
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show machine status",
		Long: `Show the state of every machine of the Cruciblefile in the descriptor
directory, or with --all of every crucible machine on the host.

Examples:
  crucible status
  crucible status -o yaml
  crucible status --all --provider kvm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter, err := output.NewFormatter(output.Options{
				Format:    output.Format(format),
				NoHeaders: noHeaders,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var sts []v1alpha1.MachineStatus
			if all {
				sts, err = opts.listAll(ctx)
			} else {
				sts, err = opts.environmentStatus(ctx, &f)
			}
			if err != nil {
				return err
			}

			out, err := formatter.FormatStatusList(sts)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format (table, yaml, json)")
	cmd.Flags().BoolVar(&noHeaders, "no-headers", false, "Omit the table header")
	cmd.Flags().BoolVarP(&all, "all", "A", false, "List crucible machines of every environment on the host")
	return cmd
}

func (o *globalOptions) environmentStatus(ctx context.Context, f *envFlags) ([]v1alpha1.MachineStatus, error) {
	env, backend, err := o.openBackend(ctx, f)
	if err != nil {
		return nil, err
	}
	defer closeEnv(env)
	return backend.Status(ctx)
}

func (o *globalOptions) listAll(ctx context.Context) ([]v1alpha1.MachineStatus, error) {
	client, err := o.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeClient(client)
	return vm.ListManaged(ctx, client.Libvirt(), o.logger)
}

// connect opens a libvirt connection for the selected provider.
func (o *globalOptions) connect(ctx context.Context) (*libvirt.Client, error) {
	profile, err := libvirt.ProfileFor(environment.NormalizeProvider(o.provider))
	if err != nil {
		return nil, err
	}
	client, err := libvirt.ConnectWithContext(ctx, profile, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	return client, nil
}

func closeClient(client *libvirt.Client) {
	if err := client.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", err)
	}
}
