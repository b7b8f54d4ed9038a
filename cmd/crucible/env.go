package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/internal/environment"
	"github.com/jbweber/crucible/internal/ui"
	"github.com/jbweber/crucible/internal/vm"
)

// envFlags selects the environment a command operates on.
type envFlags struct {
	dir string
}

func (f *envFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.dir, "descriptor", "d", ".", "Directory holding the Cruciblefile")
}

func (f *envFlags) absDir() (string, error) {
	dir, err := filepath.Abs(f.dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve descriptor directory: %w", err)
	}
	return dir, nil
}

// openBackend opens the libvirt backend of the selected environment. Build
// messages go to stdout and stderr; prompts are answered on stdin when it is
// a terminal.
func (o *globalOptions) openBackend(ctx context.Context, f *envFlags) (*environment.Environment, *vm.Backend, error) {
	dir, err := f.absDir()
	if err != nil {
		return nil, nil, err
	}
	u := consoleUI()
	provider := environment.NormalizeProvider(o.provider)

	backend, err := vm.OpenBackend(ctx, dir, provider, u, o.logger)
	if err != nil {
		return nil, nil, err
	}
	return environment.New(dir, provider, u, backend), backend, nil
}

func consoleUI() ui.UI {
	var u ui.UI = ui.NewConsole(ui.NewStreamListener(os.Stdout, os.Stderr))
	if stdinIsTerminal() {
		u = &promptUI{UI: u, in: bufio.NewReader(os.Stdin), out: os.Stdout}
	}
	return u
}

func stdinIsTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// promptUI answers Ask from a reader.
type promptUI struct {
	ui.UI
	in  *bufio.Reader
	out io.Writer
}

func (p *promptUI) Ask(prompt string) (string, error) {
	_, _ = fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (p *promptUI) Scope(name string) ui.UI {
	return &promptUI{UI: p.UI.Scope(name), in: p.in, out: p.out}
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func closeEnv(env *environment.Environment) {
	if err := env.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", err)
	}
}
