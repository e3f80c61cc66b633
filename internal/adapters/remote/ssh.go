// Package remote implements the remote build invoker and slot probe over
// the system ssh client. Using the real ssh binary keeps the user's agents,
// jump hosts, and ssh_config in play, exactly like the rsync transport.
package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/henix-dev/henix/internal/domain"
)

// Logger defines the logging interface for the remote adapter.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]any)
	Debug(ctx context.Context, msg string, fields map[string]any)
	Warn(ctx context.Context, msg string, fields map[string]any)
}

// sshUnreachableExit is the exit code the ssh client reserves for its own
// failures (connection refused, auth, DNS). Remote commands cannot produce
// it, so it cleanly separates "could not reach the node" from "the node ran
// the command and it failed".
const sshUnreachableExit = 255

// tailLines is how many trailing output lines are kept for the report.
const tailLines = 40

// Options tune the remote rebuild invocation for one run.
type Options struct {
	// Boot selects `nixos-rebuild boot`: the new generation is built and
	// made the boot default but not activated until restart.
	Boot bool

	// ShowTrace passes --show-trace through to nixos-rebuild.
	ShowTrace bool
}

// Runner probes slots and invokes the remote build/activation tool.
type Runner struct {
	user   string
	binary string
	opts   Options
	logger Logger
}

// NewRunner creates a Runner that connects as user.
func NewRunner(user string, opts Options, log Logger) *Runner {
	return &Runner{user: user, binary: "ssh", opts: opts, logger: log}
}

// completeMarker is touched inside a slot once its transfer has fully
// finished. The marker never exists in the source tree, so rsync --delete
// strips it at the start of any re-transfer: a partially materialized slot
// can never probe as complete, no matter where the previous run died.
const completeMarker = ".henix-complete"

// markerPath returns the completion marker's location inside slotPath.
func markerPath(slotPath string) string {
	return slotPath + "/" + completeMarker
}

// SlotComplete reports whether slotPath on the node holds a fully
// transferred tree. A bare directory test would accept the unfinished slot
// an interrupted transfer leaves behind, so the probe checks for the marker
// MarkComplete writes after a successful transfer. The check is advisory:
// callers must stay correct if it is skipped or races a concurrent deploy,
// which holds because the transfer into a content-addressed slot is
// idempotent.
func (r *Runner) SlotComplete(ctx context.Context, node domain.Node, slotPath string) (bool, error) {
	args := append(r.sshArgs(node), "test -f "+shellQuote(markerPath(slotPath)))
	cmd := exec.CommandContext(ctx, r.binary, args...)

	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() != sshUnreachableExit {
		// The remote test ran and said no.
		return false, nil
	}
	return false, fmt.Errorf("%w: probing slot on %q: %w", domain.ErrUnreachable, node.Name, err)
}

// MarkComplete touches the completion marker in slotPath.
func (r *Runner) MarkComplete(ctx context.Context, node domain.Node, slotPath string) error {
	args := append(r.sshArgs(node), "touch "+shellQuote(markerPath(slotPath)))
	cmd := exec.CommandContext(ctx, r.binary, args...)

	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == sshUnreachableExit {
		return fmt.Errorf("%w: marking slot on %q: %w", domain.ErrUnreachable, node.Name, err)
	}
	return fmt.Errorf("marking slot complete on %q: %s: %w", node.Name, strings.TrimSpace(string(out)), err)
}

// BuildAndActivate issues the single privileged rebuild command for the
// slot, streaming its output line-by-line into the logger. The returned
// error is reserved for invocation failures (the node was unreachable);
// build and activation failures are classified in the BuildResult, leaving
// the node's previous generation untouched in the BuildFailed case because
// activation never ran.
func (r *Runner) BuildAndActivate(ctx context.Context, node domain.Node, slotPath string) (*domain.BuildResult, error) {
	remoteCmd := rebuildCommand(slotPath, node.Name, r.opts)
	args := append(r.sshArgs(node), remoteCmd)

	r.logger.Info(ctx, "building configuration on remote", map[string]any{
		"node":    node.Name,
		"command": remoteCmd,
	})

	cmd := exec.CommandContext(ctx, r.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ssh: %w", err)
	}

	watch := newOutputWatcher()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.proxyLines(ctx, node.Name, "stdout", stdout, watch)
	}()
	go func() {
		defer wg.Done()
		r.proxyLines(ctx, node.Name, "stderr", stderr, watch)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	if waitErr == nil {
		r.logger.Info(ctx, "finished building configuration on remote", map[string]any{
			"node": node.Name,
		})
		return &domain.BuildResult{Outcome: domain.OutcomeActivated}, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return nil, fmt.Errorf("running ssh: %w", waitErr)
	}
	code := exitErr.ExitCode()
	if code == sshUnreachableExit {
		return nil, fmt.Errorf("%w: %q: %w", domain.ErrUnreachable, node.Name, waitErr)
	}

	return &domain.BuildResult{
		Outcome:    classifyFailure(watch.sawActivation()),
		ExitCode:   code,
		OutputTail: watch.tail(),
	}, nil
}

// classifyFailure distinguishes a failed build from a failed switch. The
// rebuild tool prints its activation banner only after the build store path
// is complete, so a failing command that reached the banner failed while
// switching, not while building.
func classifyFailure(activationStarted bool) domain.BuildOutcome {
	if activationStarted {
		return domain.OutcomeActivationFailed
	}
	return domain.OutcomeBuildFailed
}

// activationMarkers are line prefixes nixos-rebuild and
// switch-to-configuration emit once the build has succeeded and the switch
// step has begun.
var activationMarkers = []string{
	"activating the configuration",
	"switching to configuration",
	"setting up /etc",
}

// proxyLines forwards one output stream to the logger line-by-line while
// feeding the watcher.
func (r *Runner) proxyLines(ctx context.Context, nodeName, stream string, src io.Reader, watch *outputWatcher) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		watch.observe(line)
		r.logger.Info(ctx, stream+": "+line, map[string]any{
			"node": nodeName,
		})
	}
	if err := scanner.Err(); err != nil {
		r.logger.Warn(ctx, "remote output stream ended abnormally", map[string]any{
			"node":   nodeName,
			"stream": stream,
			"error":  err.Error(),
		})
	}
}

// outputWatcher accumulates the tail of the remote output and tracks
// whether the activation phase started. Both streams feed it concurrently.
type outputWatcher struct {
	mu         sync.Mutex
	lines      []string
	activation bool
}

func newOutputWatcher() *outputWatcher {
	return &outputWatcher{}
}

func (w *outputWatcher) observe(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, line)
	if len(w.lines) > tailLines {
		w.lines = w.lines[len(w.lines)-tailLines:]
	}
	trimmed := strings.ToLower(strings.TrimSpace(line))
	for _, marker := range activationMarkers {
		if strings.HasPrefix(trimmed, marker) {
			w.activation = true
			return
		}
	}
}

func (w *outputWatcher) sawActivation() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activation
}

func (w *outputWatcher) tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.Join(w.lines, "\n")
}

// sshArgs builds the ssh argument list up to, but not including, the remote
// command.
func (r *Runner) sshArgs(node domain.Node) []string {
	args := []string{}
	if node.SSHPort != 0 {
		args = append(args, "-p", strconv.Itoa(node.SSHPort))
	}
	return append(args, r.user+"@"+node.Location)
}

// rebuildCommand renders the remote command line that builds and, on build
// success, atomically activates the configuration at slotPath.
func rebuildCommand(slotPath, nodeName string, opts Options) string {
	action := "switch"
	if opts.Boot {
		action = "boot"
	}
	parts := []string{
		"nixos-rebuild",
		action,
		"--flake",
		shellQuote(slotPath + "#" + nodeName),
	}
	if opts.ShowTrace {
		parts = append(parts, "--show-trace")
	}
	return strings.Join(parts, " ")
}

// shellQuote single-quotes s for the remote shell, escaping embedded single
// quotes. Node names come from user-controlled inventories, so the flake
// reference cannot be spliced in raw.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
