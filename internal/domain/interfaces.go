// Package domain defines the core business entities and interfaces for henix.
// This package contains no external dependencies and represents the innermost
// layer of the CLEAN architecture.
package domain

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors for tree hashing, inventory resolution, and deployment.
var (
	// ErrTreeUnreadable indicates the local configuration tree could not be
	// read (missing root, permission denied, or a file vanished mid-scan).
	// This aborts the whole run before any host is contacted.
	ErrTreeUnreadable = errors.New("configuration tree is unreadable")

	// ErrNodeNotFound indicates a --target name that does not exist in the
	// deploy inventory.
	ErrNodeNotFound = errors.New("node does not exist in the deploy configuration")

	// ErrInventoryRequired indicates no inventory source is available.
	ErrInventoryRequired = errors.New("deploy inventory required: provide a flake with a .#deploy output or a henix.yaml")

	// ErrInventoryInvalid indicates the inventory could not be decoded.
	ErrInventoryInvalid = errors.New("deploy inventory is invalid")

	// ErrNoNodes indicates the inventory resolved to an empty node set.
	ErrNoNodes = errors.New("deploy inventory contains no nodes")

	// ErrUnreachable indicates a node could not be reached at all, as
	// opposed to a node that was reached and rejected or failed a command.
	// Treated like a transfer failure at the fleet level.
	ErrUnreachable = errors.New("node unreachable")
)

// TransferError is the per-node failure surfaced by the transfer coordinator.
// It carries the host identity and the underlying cause; no retry is performed
// inside the coordinator.
type TransferError struct {
	Node string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer to node %q failed: %v", e.Node, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// TreeHasher derives the content identifier for a local configuration tree.
// Derivation is pure and deterministic: identical content on any machine
// produces the same identifier.
type TreeHasher interface {
	// Derive walks the tree in canonical path-sorted order, incorporating
	// both file contents and relative paths. Returns an error wrapping
	// ErrTreeUnreadable if the tree cannot be read.
	Derive(ctx context.Context, dir string) (Identifier, error)
}

// Transport replicates a local tree into a remote slot path. The operation
// is idempotent for a given identifier: re-running with identical content is
// a no-op, and an interrupted transfer converges on retry.
type Transport interface {
	// Transfer copies the *contents* of dir into slotPath on the node,
	// creating parent directories as needed. Failures are returned as
	// *TransferError.
	Transfer(ctx context.Context, dir string, node Node, slotPath string) error
}

// Runner executes the remote side of an attempt: the advisory completion
// probe and the single privileged build-and-activate command. Alternate backends
// (a different rebuild tool) substitute here without touching fleet or
// transfer logic.
type Runner interface {
	// SlotComplete reports whether the slot on the node holds a fully
	// materialized transfer. A bare slot directory is not enough: an
	// interrupted transfer leaves a partial directory behind, so only a
	// slot carrying the completion record written by MarkComplete counts.
	// The probe is purely an optimization to skip redundant transfers; a
	// negative or failed probe is always safe because the transfer is
	// idempotent.
	SlotComplete(ctx context.Context, node Node, slotPath string) (bool, error)

	// MarkComplete records on the node that slotPath holds a fully
	// materialized transfer, making future SlotComplete probes answer
	// true. Called only after the transfer reported success.
	MarkComplete(ctx context.Context, node Node, slotPath string) error

	// BuildAndActivate issues one remote command that builds the
	// configuration at slotPath and, only on build success, switches the
	// node's active generation to it. The returned error is reserved for
	// invocation failures (ssh could not run at all); build and activation
	// failures are classified in the BuildResult.
	BuildAndActivate(ctx context.Context, node Node, slotPath string) (*BuildResult, error)
}

// Deployer runs one deployment attempt per node for a single identifier and
// aggregates the results.
type Deployer interface {
	// Deploy derives the identifier once, fans out one attempt per node,
	// and returns the aggregate report. Per-node failures are captured in
	// the report, never returned as the error; only precursor failures
	// (an unreadable tree) abort before fan-out.
	Deploy(ctx context.Context, cfgDir string, nodes []Node) (*Report, error)
}

// ReportWriter renders the final deployment report for the operator.
type ReportWriter interface {
	WriteReport(report *Report) error
}

// SelectNodes filters the inventory down to the requested target names,
// preserving inventory order. An empty target list selects every node.
// Returns an error wrapping ErrNodeNotFound for any name absent from the
// inventory.
func SelectNodes(nodes []Node, targets []string) ([]Node, error) {
	if len(targets) == 0 {
		return nodes, nil
	}
	byName := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		byName[n.Name] = true
	}
	for _, t := range targets {
		if !byName[t] {
			return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, t)
		}
	}
	want := make(map[string]bool, len(targets))
	for _, t := range targets {
		want[t] = true
	}
	selected := make([]Node, 0, len(targets))
	for _, n := range nodes {
		if want[n.Name] {
			selected = append(selected, n)
		}
	}
	return selected, nil
}
