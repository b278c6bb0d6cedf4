// Package cli implements the studystore command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesh-intelligence/studystore/internal/export"
	"github.com/mesh-intelligence/studystore/internal/paths"
	"github.com/mesh-intelligence/studystore/pkg/studystore"
	"github.com/mesh-intelligence/studystore/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	backend   string
	dsn       string
	jsonMode  bool
	logLevel  string
}

// app is the state shared by the commands of one invocation.
type app struct {
	flags  rootFlags
	config *viper.Viper
	logger *slog.Logger
}

// NewRootCmd creates the top-level "studystore" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:     "studystore",
		Short:   "Persistent storage for hyperparameter search studies",
		Long:    "studystore manages the studies, trials, parameters and intermediate values\nshared by the workers of a hyperparameter search.",
		Version: studystore.Version,
		// Do not print usage on errors returned by subcommands.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{msg: err.Error()}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "sqlite data directory (default: $(CWD)/.studystore)")
	pf.StringVar(&a.flags.backend, "backend", "", "storage backend: sqlite, postgres or mysql")
	pf.StringVar(&a.flags.dsn, "dsn", "", "connection string for postgres or mysql")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(newVersionCmd(a))
	root.AddCommand(newInitCmd(a))
	root.AddCommand(newSchemaCmd(a))
	root.AddCommand(newStudyCmd(a))
	root.AddCommand(newTrialCmd(a))
	root.AddCommand(newExportCmd(a))
	root.AddCommand(newImportCmd(a))

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one invocation and returns its exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitCode(err)
	}
	return exitSuccess
}

// setup loads configuration and builds the logger before any subcommand
// runs.
func (a *app) setup(cmd *cobra.Command) error {
	configDir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	a.config, err = loadConfig(configDir, cmd.Flags())
	if err != nil {
		return err
	}
	level, err := parseLevel(a.config.GetString(cfgKeyLogLevel))
	if err != nil {
		return err
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// usageError marks a bad argument. It maps to exitUserError.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{msg: err.Error()}
		}
		return nil
	}
}

// userErrors are the sentinels caused by the invocation rather than the
// system.
var userErrors = []error{
	types.ErrNotFound,
	types.ErrInvalidState,
	types.ErrInvalidDistribution,
	types.ErrInvalidValue,
	types.ErrDescriptorExists,
	types.ErrInvariantViolation,
	types.ErrBackendEmpty,
	types.ErrBackendUnknown,
	types.ErrDSNRequired,
	types.ErrPoolSize,
	export.ErrMalformedFile,
}

// exitCode classifies err as a user or system error.
func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return exitUserError
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return exitUserError
		}
	}
	return exitSysError
}
