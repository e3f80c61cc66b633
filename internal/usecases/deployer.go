// Package usecases contains the application business logic.
// This package orchestrates domain entities and interfaces to fulfill the
// deployment use case.
package usecases

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/henix-dev/henix/internal/domain"
)

// Logger defines the logging interface required by the deployer.
// This abstracts the logger dependency to avoid coupling to a specific
// implementation.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]any)
	Debug(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
	Error(ctx context.Context, msg string, err error, fields map[string]any)
}

// FleetDeployer runs the hash-addressed deployment protocol across a fleet
// of nodes: one identifier derived up front, one independent attempt per
// node, and an aggregate report.
type FleetDeployer struct {
	hasher    domain.TreeHasher
	transport domain.Transport
	runner    domain.Runner
	baseDir   string
	logger    Logger
}

// NewFleetDeployer creates a FleetDeployer with the given collaborators.
// baseDir is the remote directory under which slots are created; the empty
// string selects domain.DefaultBaseDir.
func NewFleetDeployer(
	hasher domain.TreeHasher,
	transport domain.Transport,
	runner domain.Runner,
	baseDir string,
	log Logger,
) *FleetDeployer {
	if baseDir == "" {
		baseDir = domain.DefaultBaseDir
	}
	return &FleetDeployer{
		hasher:    hasher,
		transport: transport,
		runner:    runner,
		baseDir:   baseDir,
		logger:    log,
	}
}

// Deploy derives the identifier for cfgDir exactly once, before any network
// activity, then runs one attempt per node concurrently. Attempts are
// independent: a failure on one node never blocks, cancels, or rolls back
// another. Per-node failures land in the report; the returned error is
// reserved for precursor failures, in which case no attempt was started.
func (d *FleetDeployer) Deploy(ctx context.Context, cfgDir string, nodes []domain.Node) (*domain.Report, error) {
	if len(nodes) == 0 {
		return nil, domain.ErrNoNodes
	}

	id, err := d.hasher.Derive(ctx, cfgDir)
	if err != nil {
		return nil, fmt.Errorf("deriving configuration identifier: %w", err)
	}

	d.logger.Info(ctx, "derived configuration identifier", map[string]any{
		"identifier": string(id),
		"nodes":      len(nodes),
	})

	// One result slot per node, written only by that node's goroutine and
	// read only after the join. Attempts share nothing mutable, so no
	// locking is needed on the aggregation path.
	attempts := make([]domain.Attempt, len(nodes))
	var wg sync.WaitGroup
	for i, node := range nodes {
		wg.Add(1)
		go func(i int, node domain.Node) {
			defer wg.Done()
			attempts[i] = d.deployNode(ctx, cfgDir, node, id)
		}(i, node)
	}
	wg.Wait()

	return &domain.Report{Identifier: id, Attempts: attempts}, nil
}

// deployNode runs one node's attempt: resolve the slot, probe it for a
// completed transfer, transfer and mark unless one is already there, then
// build and activate. Each step's failure short-circuits the remaining
// steps for this node only.
func (d *FleetDeployer) deployNode(ctx context.Context, cfgDir string, node domain.Node, id domain.Identifier) domain.Attempt {
	attempt := domain.Attempt{
		Node:  node,
		Slot:  domain.Slot(d.baseDir, id),
		State: domain.StatePending,
	}

	attempt.State = domain.StateTransferring
	complete, err := d.runner.SlotComplete(ctx, node, attempt.Slot)
	if err != nil {
		// The probe is advisory. A probe that failed for any reason other
		// than unreachability falls through to the transfer, which is safe
		// to run regardless.
		if errors.Is(err, domain.ErrUnreachable) {
			d.logger.Error(ctx, "node unreachable", err, map[string]any{
				"node": node.Name,
			})
			attempt.State = domain.StateFailed
			attempt.Failure = domain.FailureUnreachable
			attempt.Err = err
			return attempt
		}
		d.logger.Warn(ctx, "slot probe failed; transferring anyway", map[string]any{
			"node":  node.Name,
			"error": err.Error(),
		})
		complete = false
	}

	if complete {
		d.logger.Info(ctx, "slot already fully transferred; skipping transfer", map[string]any{
			"node": node.Name,
			"slot": attempt.Slot,
		})
		attempt.TransferSkipped = true
	} else {
		if err := d.transport.Transfer(ctx, cfgDir, node, attempt.Slot); err != nil {
			d.logger.Error(ctx, "transfer failed", err, map[string]any{
				"node": node.Name,
				"slot": attempt.Slot,
			})
			attempt.State = domain.StateFailed
			attempt.Failure = domain.FailureTransfer
			attempt.Err = err
			return attempt
		}
		// The marker only buys the next run a skipped transfer. Losing it
		// costs one redundant rsync, never correctness, so a failed write
		// does not fail the attempt.
		if err := d.runner.MarkComplete(ctx, node, attempt.Slot); err != nil {
			d.logger.Warn(ctx, "could not mark slot complete; a future run will re-transfer", map[string]any{
				"node":  node.Name,
				"slot":  attempt.Slot,
				"error": err.Error(),
			})
		}
	}

	attempt.State = domain.StateBuilding
	result, err := d.runner.BuildAndActivate(ctx, node, attempt.Slot)
	if err != nil {
		d.logger.Error(ctx, "remote rebuild could not be invoked", err, map[string]any{
			"node": node.Name,
		})
		attempt.State = domain.StateFailed
		attempt.Failure = domain.FailureUnreachable
		attempt.Err = err
		return attempt
	}
	attempt.Build = result

	switch result.Outcome {
	case domain.OutcomeActivated:
		attempt.State = domain.StateSucceeded
		d.logger.Info(ctx, "node activated new generation", map[string]any{
			"node": node.Name,
			"slot": attempt.Slot,
		})
	case domain.OutcomeActivationFailed:
		attempt.State = domain.StateFailed
		attempt.Failure = domain.FailureActivation
		attempt.Err = fmt.Errorf("activation failed on %q (exit %d); built tree remains at %s", node.Name, result.ExitCode, attempt.Slot)
		d.logger.Error(ctx, "activation failed after successful build", attempt.Err, map[string]any{
			"node": node.Name,
			"exit": result.ExitCode,
		})
	default:
		attempt.State = domain.StateFailed
		attempt.Failure = domain.FailureBuild
		attempt.Err = fmt.Errorf("build failed on %q (exit %d); failing tree remains at %s for inspection", node.Name, result.ExitCode, attempt.Slot)
		d.logger.Error(ctx, "remote build failed; previous generation untouched", attempt.Err, map[string]any{
			"node": node.Name,
			"exit": result.ExitCode,
		})
	}
	return attempt
}
