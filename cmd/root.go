// Package cmd provides the CLI commands for henix.
package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/henix-dev/henix/internal/domain"
)

// Logger defines the logging interface used by the commands.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]any)
	Debug(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
	Error(ctx context.Context, msg string, err error, fields map[string]any)
}

// ErrDeployFailed marks a run that completed but left at least one node in
// a failed state. Execute maps it to a distinct exit code so automation can
// tell "some hosts failed" apart from usage or precursor errors.
var ErrDeployFailed = errors.New("deployment failed on one or more nodes")

// exit codes for Execute.
const (
	exitUsage        = 1
	exitDeployFailed = 3
)

// AppConfig holds application configuration loaded by ConfigLoader.
type AppConfig struct {
	// BaseDir is the remote directory under which slots are created.
	BaseDir string

	// SSHUser is the remote user for ssh and rsync.
	SSHUser string

	// InventoryPath is an explicit YAML inventory path (may be empty).
	InventoryPath string

	// LogLevel is the log level setting.
	LogLevel string
}

// DeployOptions carries the per-run flags through to the runner factory.
type DeployOptions struct {
	// Boot makes the rebuild take effect at next boot instead of switching
	// immediately.
	Boot bool

	// ShowTrace passes --show-trace to the remote rebuild.
	ShowTrace bool
}

// Dependencies holds all injectable dependencies for the commands.
// This enables testing by allowing mock implementations to be injected.
type Dependencies struct {
	// LoggerFactory creates a logger at the given level.
	LoggerFactory func(level string) (Logger, error)

	// ConfigLoader loads application configuration.
	ConfigLoader func() (*AppConfig, error)

	// InventoryLoader resolves the node inventory for a configuration
	// directory. explicitPath may name a YAML inventory file.
	InventoryLoader func(ctx context.Context, cfgDir, explicitPath string) ([]domain.Node, error)

	// WorktreeProbe reports the dirty paths of the configuration
	// directory's git worktree. isRepo is false when the directory is not
	// under git, in which case there is nothing to warn about.
	WorktreeProbe func(cfgDir string) (dirty []string, isRepo bool, err error)

	// HasherFactory creates the tree hasher.
	HasherFactory func() domain.TreeHasher

	// TransportFactory creates the transfer coordinator.
	TransportFactory func(cfg *AppConfig, log Logger) domain.Transport

	// RunnerFactory creates the remote build invoker for one run.
	RunnerFactory func(cfg *AppConfig, opts DeployOptions, log Logger) domain.Runner

	// DeployerFactory creates the fleet executor.
	DeployerFactory func(
		hasher domain.TreeHasher,
		transport domain.Transport,
		runner domain.Runner,
		baseDir string,
		log Logger,
	) domain.Deployer

	// ReportWriterFactory creates the report writer targeting out.
	ReportWriterFactory func(out io.Writer) domain.ReportWriter

	// Stdout is the writer the final report is rendered to.
	Stdout io.Writer

	// Stderr is the writer for warnings/errors.
	Stderr io.Writer
}

// Command-line flags.
var (
	cfgDirFlag string
	verbose    bool
)

// defaultDeps holds the production dependencies.
// This is set by the production wiring in main via SetDefaultDependencies.
var defaultDeps *Dependencies

// SetDefaultDependencies sets the default dependencies for production use.
// This should be called from main() before Execute().
func SetDefaultDependencies(deps *Dependencies) {
	defaultDeps = deps
}

// NewRootCmd creates the root command for henix.
func NewRootCmd() *cobra.Command {
	return NewRootCmdWithDeps(defaultDeps)
}

// NewRootCmdWithDeps creates the root command with explicit dependencies.
// This is the primary constructor that enables testing via dependency
// injection.
func NewRootCmdWithDeps(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "henix",
		Short: "Deploy hash-addressed NixOS configurations to a fleet of nodes",
		Long: `henix deploys a flake configuration directory to remote nodes.

Each run derives a content identifier for the configuration tree, copies the
tree to <base>/<identifier> on every target node, and runs the remote rebuild
against that slot. Slots are immutable and keyed by content, so a failed
build never disturbs a node's active generation and the failing tree stays
on the host for inspection.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgDirFlag, "cfg-dir", "",
		"Path to the directory containing the configuration (default $HENIX_CFG_DIR or the current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable verbose/debug logging")

	rootCmd.AddCommand(newDeployCmd(deps))

	return rootCmd
}

// Execute runs the root command, mapping the outcome to the process exit
// status: 0 when everything succeeded, 3 when the run completed with failed
// nodes, 1 for usage and precursor errors.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, ErrDeployFailed) {
			os.Exit(exitDeployFailed)
		}
		os.Exit(exitUsage)
	}
}
