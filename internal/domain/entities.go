// Package domain defines the core business entities and interfaces for henix.
package domain

import "path"

// DefaultBaseDir is the remote directory under which configuration slots live.
// Each deployed configuration occupies <base>/<identifier>, one subdirectory
// per distinct configuration ever shipped to that host.
const DefaultBaseDir = "/etc/henix"

// Identifier is the deterministic content fingerprint of a configuration tree.
// Identical trees produce identical identifiers on any machine; any change to
// a file's bytes or relative path produces a different identifier. It is the
// sole key correlating a local tree with its remote slot and is computed
// exactly once per run.
type Identifier string

// Node is one deployment target: a remote host reachable over SSH.
// Constructed from the inventory before a run and read-only during it.
type Node struct {
	// Name is the inventory key, and also the flake attribute used by the
	// remote rebuild (<slot>#<name>).
	Name string

	// Location is the host address (hostname or IP) passed to ssh/rsync.
	Location string

	// SSHPort overrides the SSH port when non-zero.
	SSHPort int
}

// Slot computes the remote storage path for an identifier. It is a pure
// string computation: the same (baseDir, id) always yields the same path,
// and distinct identifiers never collide. Remote paths are POSIX, so this
// uses path rather than filepath.
func Slot(baseDir string, id Identifier) string {
	return path.Join(baseDir, string(id))
}

// AttemptState is the lifecycle state of one node's deployment attempt.
type AttemptState string

const (
	StatePending      AttemptState = "pending"
	StateTransferring AttemptState = "transferring"
	StateBuilding     AttemptState = "building"
	StateSucceeded    AttemptState = "succeeded"
	StateFailed       AttemptState = "failed"
)

// BuildOutcome classifies the result of the remote build-and-activate command.
type BuildOutcome string

const (
	// OutcomeActivated means build and switch both succeeded; the node now
	// runs the new generation.
	OutcomeActivated BuildOutcome = "activated"

	// OutcomeBuildFailed means the remote build step failed. Nothing was
	// activated and the node's previous generation is untouched; the failing
	// tree stays intact at its slot for inspection.
	OutcomeBuildFailed BuildOutcome = "build-failed"

	// OutcomeActivationFailed means the build succeeded but the switch step
	// failed. Surfaced distinctly so operators can tell a bad configuration
	// apart from a bad machine.
	OutcomeActivationFailed BuildOutcome = "activation-failed"
)

// BuildResult carries the classified outcome of one remote rebuild invocation
// together with the raw evidence behind the classification.
type BuildResult struct {
	Outcome  BuildOutcome
	ExitCode int

	// OutputTail holds the last lines of the remote command's combined
	// output, for the failure report. The full stream is proxied to the
	// logger as it arrives.
	OutputTail string
}

// FailureKind names the step at which an attempt failed.
type FailureKind string

const (
	FailureUnreachable FailureKind = "unreachable"
	FailureTransfer    FailureKind = "transfer"
	FailureBuild       FailureKind = "build"
	FailureActivation  FailureKind = "activation"
)

// Attempt is the per-node unit of work for one run. Exactly one terminal
// state (Succeeded or Failed) is reached per attempt.
type Attempt struct {
	Node  Node
	Slot  string
	State AttemptState

	// Failure describes why the attempt failed; empty when State is
	// StateSucceeded.
	Failure FailureKind

	// Err is the captured error for transfer/unreachable failures, or a
	// summary error for build/activation failures. Never propagated past
	// the fleet executor.
	Err error

	// Build holds the remote rebuild result when the attempt got that far.
	Build *BuildResult

	// TransferSkipped records that the slot already existed remotely and
	// the transfer step was skipped.
	TransferSkipped bool
}

// Succeeded reports whether the attempt reached its successful terminal state.
func (a *Attempt) Succeeded() bool {
	return a.State == StateSucceeded
}

// Report aggregates all attempts of one run. It is derived once, after every
// attempt has reached a terminal state, and is immutable thereafter.
type Report struct {
	Identifier Identifier
	Attempts   []Attempt
}

// AllSucceeded reports whether every attempt in the run succeeded.
func (r *Report) AllSucceeded() bool {
	for i := range r.Attempts {
		if !r.Attempts[i].Succeeded() {
			return false
		}
	}
	return true
}

// Failed returns the attempts that reached a failed terminal state.
func (r *Report) Failed() []Attempt {
	var failed []Attempt
	for _, a := range r.Attempts {
		if !a.Succeeded() {
			failed = append(failed, a)
		}
	}
	return failed
}
