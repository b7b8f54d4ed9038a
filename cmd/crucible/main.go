package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version = "dev"
	commit  = "unknown"
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	os.Exit(execute())
}

func execute() int {
	err := newRootCmd().Execute()
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

// globalOptions are the persistent flags of the root command.
type globalOptions struct {
	logLevel  string
	logFormat string
	provider  string
	lockPath  string

	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "crucible",
		Short: "Crucible - build machines on libvirt",
		Long: `Crucible boots the virtual machines described by a Cruciblefile, runs
build steps on them over SSH and destroys them when the build is done.

A build is described by a job file and run with "crucible run". The other
commands operate on the environment of a single directory.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(opts.logLevel, opts.logFormat)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Diagnostic log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "console", "Diagnostic log format (console, json)")
	flags.StringVar(&opts.provider, "provider", "", "Virtualization provider (default \"virtualbox\")")
	flags.StringVar(&opts.lockPath, "lock-path", "", "Host boot lock file (default $TMPDIR/.crucible-boot.lock)")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newUpCmd(opts),
		newDestroyCmd(opts),
		newStatusCmd(opts),
		newExecCmd(opts),
		newProvisionCmd(opts),
		newImageCmd(opts),
		newStorageCmd(opts),
		newTestConnCmd(opts),
	)
	return rootCmd
}

// newLogger builds the diagnostic logger. Diagnostics go to stderr so they
// never mix with the build log on stdout.
func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q (valid formats: console, json)", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = lvl > zapcore.DebugLevel

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
