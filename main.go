// Package main is the entry point for the henix CLI application.
// henix deploys hash-addressed NixOS configurations to a fleet of nodes:
// the configuration tree is transferred to an immutable, content-keyed slot
// on each node and the remote rebuild is run against that slot, so a failed
// build never disturbs a node's active generation.
package main

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/henix-dev/henix/cmd"
	gitadapter "github.com/henix-dev/henix/internal/adapters/git"
	"github.com/henix-dev/henix/internal/adapters/hash"
	logadapter "github.com/henix-dev/henix/internal/adapters/logger"
	"github.com/henix-dev/henix/internal/adapters/output"
	"github.com/henix-dev/henix/internal/adapters/remote"
	"github.com/henix-dev/henix/internal/adapters/transport"
	"github.com/henix-dev/henix/internal/domain"
	"github.com/henix-dev/henix/internal/infrastructure/config"
	"github.com/henix-dev/henix/internal/usecases"
)

func main() {
	// Wire up production dependencies
	deps := &cmd.Dependencies{
		LoggerFactory: func(level string) (cmd.Logger, error) {
			zapLog, err := logadapter.NewZapLogger(level)
			if err != nil {
				return nil, err
			}
			return logadapter.NewZapAdapter(zapLog), nil
		},

		ConfigLoader: func() (*cmd.AppConfig, error) {
			cfg, err := config.Load()
			if err != nil {
				return nil, err
			}
			return &cmd.AppConfig{
				BaseDir:       cfg.BaseDir,
				SSHUser:       cfg.SSHUser,
				InventoryPath: cfg.InventoryPath,
				LogLevel:      cfg.LogLevel,
			}, nil
		},

		InventoryLoader: func(ctx context.Context, cfgDir, explicitPath string) ([]domain.Node, error) {
			loader := &config.InventoryLoader{ExplicitPath: explicitPath}
			return loader.Load(ctx, cfgDir)
		},

		WorktreeProbe: func(cfgDir string) ([]string, bool, error) {
			status, err := gitadapter.NewChecker().Status(cfgDir)
			if err != nil {
				if errors.Is(err, gitadapter.ErrNotARepository) {
					return nil, false, nil
				}
				return nil, false, err
			}
			return status.DirtyPaths, true, nil
		},

		HasherFactory: func() domain.TreeHasher {
			return hash.NewTreeHasher()
		},

		TransportFactory: func(cfg *cmd.AppConfig, log cmd.Logger) domain.Transport {
			return transport.NewRsync(cfg.SSHUser, log)
		},

		RunnerFactory: func(cfg *cmd.AppConfig, opts cmd.DeployOptions, log cmd.Logger) domain.Runner {
			return remote.NewRunner(cfg.SSHUser, remote.Options{
				Boot:      opts.Boot,
				ShowTrace: opts.ShowTrace,
			}, log)
		},

		DeployerFactory: func(
			hasher domain.TreeHasher,
			trans domain.Transport,
			runner domain.Runner,
			baseDir string,
			log cmd.Logger,
		) domain.Deployer {
			return usecases.NewFleetDeployer(hasher, trans, runner, baseDir, log)
		},

		ReportWriterFactory: func(out io.Writer) domain.ReportWriter {
			return output.NewWriter(out)
		},

		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	cmd.SetDefaultDependencies(deps)
	cmd.Execute()
}
