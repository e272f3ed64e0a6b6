// Package cli implements the findoutlie command line.
//
// Every command runs through Run, which maps the outcome to a semantic exit
// code (see ExitCode). Settings are resolved in order: config file defaults,
// FINDOUTLIE_* environment overrides, then flags given on the command line.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"findoutlie/internal/config"
	"findoutlie/internal/logging"
	"findoutlie/internal/report"
)

// DefaultConfigFile is read from the working directory when --config is not
// given. A missing file is not an error.
const DefaultConfigFile = "findoutlie.yaml"

// CLIResult is the outcome of one invocation.
type CLIResult struct {
	ExitCode int

	// RunID identifies the recorded run for detect invocations.
	RunID string

	// Report is the last report produced by detect or watch.
	Report *report.Report
}

type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger

	// started is set once argument parsing succeeded and a command begins.
	started bool
	result  CLIResult
}

// Run executes the command line args (excluding argv[0]) and returns the
// exit code plus any error. Output goes to stdout; logs go to stderr.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) (CLIResult, error) {
	a := &app{stdout: stdout, stderr: stderr, logger: zap.NewNop()}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	_ = a.logger.Sync()
	if err != nil && !a.started && ExitCode(err) == ExitInternalError {
		// Unknown commands, unknown flags and wrong argument counts.
		err = &InvocationError{ExitCode: ExitInvalidInvocation, Message: err.Error()}
	}
	a.result.ExitCode = ExitCode(err)
	return a.result, err
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "findoutlie",
		Short: "Find outlier volumes in fMRI NIfTI images",
		Long: `findoutlie validates a data directory against its SHA1 hash list and
reports, for every 4D NIfTI image, the volumes whose mean intensity or DVARS
lies outside the interquartile range fences.`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", DefaultConfigFile, "Config file (YAML)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		a.detectCommand(),
		a.validateCommand(),
		a.metricsCommand(),
		a.runsCommand(),
		a.watchCommand(),
	)
	return root
}

// setup loads the configuration and builds the logger. Flag overrides are
// applied by each command afterwards.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.started = true
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return configErrorf("%v", err)
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Logging, a.verbose, a.stderr)
	if err != nil {
		return configErrorf("%v", err)
	}
	a.logger = logger.With(zap.String("command", cmd.Name()))
	return nil
}
