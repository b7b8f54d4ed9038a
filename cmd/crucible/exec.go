package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/internal/build"
	"github.com/jbweber/crucible/internal/step"
	"github.com/jbweber/crucible/internal/topology"
	"github.com/jbweber/crucible/internal/ui"
)

func newExecCmd(opts *globalOptions) *cobra.Command {
	var (
		f       envFlags
		sudo    bool
		machine string
	)

	cmd := &cobra.Command{
		Use:   "exec [flags] -- <command...>",
		Short: "Run a shell command on the machines",
		Long: `Run a shell command on every machine of the environment, or on one
machine with --machine. Output is streamed as it arrives.

The command exits with the remote exit status of the first machine that
fails.

Examples:
  crucible exec -- make test
  crucible exec --sudo -- dnf install -y make
  crucible exec --machine db -- 'pg_isready && echo ok'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			env, _, err := opts.openBackend(ctx, &f)
			if err != nil {
				return err
			}
			defer closeEnv(env)

			var topo topology.Topology
			if machine != "" {
				m, err := env.Machine(ctx, machine)
				if err != nil {
					return err
				}
				topo = topology.NewSingle(m)
			} else {
				topo, err = topology.Resolve(ctx, env)
				if err != nil {
					return fmt.Errorf("failed to resolve machines: %w", err)
				}
			}

			l := ui.NewStreamListener(os.Stdout, os.Stderr)
			err = step.Execute(ctx, step.NewCommand(strings.Join(args, " "), sudo), topo, l)
			return haltExit(err)
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&sudo, "sudo", false, "Run the command with elevated privileges")
	cmd.Flags().StringVarP(&machine, "machine", "m", "", "Run on this machine only")
	return cmd
}

// haltExit turns a step halt into the process exit status. A remote nonzero
// exit is passed through as is.
func haltExit(err error) error {
	if err == nil {
		return nil
	}
	var halt *build.HaltError
	if !errors.As(err, &halt) {
		return err
	}
	fmt.Fprintln(os.Stderr, halt.Error())
	if halt.ExitStatus > 0 {
		return &exitError{code: halt.ExitStatus}
	}
	return &exitError{code: halt.Result.ExitCode()}
}
