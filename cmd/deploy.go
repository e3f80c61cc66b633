package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/henix-dev/henix/internal/domain"
)

// envCfgDir overrides the configuration directory when --cfg-dir is unset.
const envCfgDir = "HENIX_CFG_DIR"

// deploy command flags.
var (
	boot      bool
	showTrace bool
	targets   []string
)

// newDeployCmd creates the deploy subcommand.
func newDeployCmd(deps *Dependencies) *cobra.Command {
	deployCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the configuration to the fleet",
		Long: `Deploy derives the configuration identifier, transfers the tree to each
node's slot, and runs the remote rebuild.

Node failures are independent: one node's failed transfer or build never
blocks or rolls back the others. The exit status is 0 only when every node
activated the new generation.

Examples:
  # Deploy every node in the inventory
  henix deploy

  # Deploy selected nodes only
  henix deploy -t web1 -t web2

  # Build now, activate at next boot
  henix deploy --boot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, deps)
		},
	}

	deployCmd.Flags().BoolVar(&boot, "boot", false,
		"Make the rebuild only take effect at next boot (nixos-rebuild boot)")
	deployCmd.Flags().StringArrayVarP(&targets, "target", "t", nil,
		"Deploy only the named nodes (repeatable); naming an unknown node is an error")
	deployCmd.Flags().BoolVar(&showTrace, "show-trace", false,
		"Pass --show-trace to the remote rebuild")

	return deployCmd
}

// runDeploy executes the deployment with injected dependencies.
func runDeploy(cmd *cobra.Command, deps *Dependencies) error {
	if deps == nil {
		return errors.New("dependencies not configured")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfgDir, err := resolveCfgDir()
	if err != nil {
		return err
	}

	cfg, err := deps.ConfigLoader()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	log, err := deps.LoggerFactory(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}

	log.Info(ctx, "starting deployment", map[string]any{
		"cfg_dir":    cfgDir,
		"boot":       boot,
		"show_trace": showTrace,
		"targets":    targets,
	})

	warnDirtyWorktree(ctx, deps, log, cfgDir)

	nodes, err := deps.InventoryLoader(ctx, cfgDir, cfg.InventoryPath)
	if err != nil {
		log.Error(ctx, "failed to load deploy inventory", err, map[string]any{
			"cfg_dir": cfgDir,
		})
		return fmt.Errorf("inventory error: %w", err)
	}

	nodes, err = domain.SelectNodes(nodes, targets)
	if err != nil {
		if errors.Is(err, domain.ErrNodeNotFound) {
			return fmt.Errorf("%w; did you remember to `git add` its configuration?", err)
		}
		return err
	}

	hasher := deps.HasherFactory()
	transport := deps.TransportFactory(cfg, log)
	runner := deps.RunnerFactory(cfg, DeployOptions{Boot: boot, ShowTrace: showTrace}, log)
	deployer := deps.DeployerFactory(hasher, transport, runner, cfg.BaseDir, log)

	report, err := deployer.Deploy(ctx, cfgDir, nodes)
	if err != nil {
		log.Error(ctx, "deployment aborted before fan-out", err, nil)
		if errors.Is(err, domain.ErrTreeUnreadable) {
			return fmt.Errorf("cannot read configuration tree at %s: %w", cfgDir, err)
		}
		return err
	}

	stdout := deps.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	writer := deps.ReportWriterFactory(stdout)
	if err := writer.WriteReport(report); err != nil {
		log.Error(ctx, "failed to write report", err, nil)
		return fmt.Errorf("output error: %w", err)
	}

	if !report.AllSucceeded() {
		failed := report.Failed()
		names := make([]string, 0, len(failed))
		for _, a := range failed {
			names = append(names, a.Node.Name)
		}
		log.Error(ctx, "deployment finished with failures", nil, map[string]any{
			"failed_nodes": names,
		})
		return fmt.Errorf("%w: %d of %d nodes failed", ErrDeployFailed, len(failed), len(report.Attempts))
	}

	log.Info(ctx, "deployment complete", map[string]any{
		"identifier": string(report.Identifier),
		"nodes":      len(report.Attempts),
	})
	return nil
}

// resolveCfgDir picks the configuration directory: the --cfg-dir flag, then
// $HENIX_CFG_DIR, then the current directory.
func resolveCfgDir() (string, error) {
	if cfgDirFlag != "" {
		return cfgDirFlag, nil
	}
	if env := os.Getenv(envCfgDir); env != "" {
		return env, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determining working directory: %w", err)
	}
	return wd, nil
}

// warnDirtyWorktree warns when the configuration directory is a git
// repository with uncommitted changes. Flake evaluation only sees committed
// or staged files, so local edits may silently not ship. Best-effort: probe
// failures are logged and ignored.
func warnDirtyWorktree(ctx context.Context, deps *Dependencies, log Logger, cfgDir string) {
	if deps.WorktreeProbe == nil {
		return
	}
	dirty, isRepo, err := deps.WorktreeProbe(cfgDir)
	if err != nil {
		log.Debug(ctx, "worktree probe failed", map[string]any{
			"cfg_dir": cfgDir,
			"error":   err.Error(),
		})
		return
	}
	if !isRepo || len(dirty) == 0 {
		return
	}
	log.Warn(ctx, "configuration worktree has uncommitted changes; the flake build will not see them", map[string]any{
		"cfg_dir":     cfgDir,
		"dirty_paths": len(dirty),
	})
	stderr := deps.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	writeWarningf(stderr, "warning: %d uncommitted path(s) in %s will not be part of the build\n", len(dirty), cfgDir)
}

// writeWarningf writes a warning message to the given writer.
// This is a best-effort operation; errors are intentionally ignored
// because there is no recovery action if stderr writes fail.
func writeWarningf(w io.Writer, format string, args ...any) {
	_, err := fmt.Fprintf(w, format, args...)
	if err != nil {
		// Intentionally ignored: no recovery action for failed stderr writes
		return
	}
}
