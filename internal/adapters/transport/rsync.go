// Package transport implements the transfer coordinator over rsync.
// The slot path is content-addressed and rsync's sync primitive is
// idempotent, so an interrupted transfer converges to a complete copy when
// re-run; the coordinator applies no filtering beyond the .git exclusion
// that the identifier derivation also applies.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/henix-dev/henix/internal/domain"
)

// Logger defines the logging interface for the transport adapter.
type Logger interface {
	Info(ctx context.Context, msg string, fields map[string]any)
	Debug(ctx context.Context, msg string, fields map[string]any)
}

// Rsync transfers configuration trees to remote slots by invoking the
// system rsync binary over the user's ssh client. Riding the real ssh
// client keeps agents, jump hosts, and per-host ssh_config in play.
type Rsync struct {
	user   string
	binary string
	logger Logger
}

// NewRsync creates an Rsync transport that connects as user.
func NewRsync(user string, log Logger) *Rsync {
	return &Rsync{user: user, binary: "rsync", logger: log}
}

// Transfer copies the contents of dir into slotPath on the node. Failures
// are returned as *domain.TransferError carrying the node name and rsync's
// stderr.
func (t *Rsync) Transfer(ctx context.Context, dir string, node domain.Node, slotPath string) error {
	args := transferArgs(dir, t.user, node, slotPath)

	t.logger.Info(ctx, "copying configuration to remote slot", map[string]any{
		"node": node.Name,
		"slot": slotPath,
	})
	t.logger.Debug(ctx, "running rsync", map[string]any{
		"node": node.Name,
		"args": args,
	})

	cmd := exec.CommandContext(ctx, t.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &domain.TransferError{
			Node: node.Name,
			Err:  fmt.Errorf("rsync: %w; stderr:\n%s", err, stderr.String()),
		}
	}

	t.logger.Info(ctx, "copy finished", map[string]any{
		"node": node.Name,
		"slot": slotPath,
	})
	return nil
}

// transferArgs builds the rsync argument list for one transfer.
//
// The trailing slash on the source makes rsync copy the directory's
// contents rather than the directory itself. --delete keeps a re-run of a
// partially transferred slot convergent, and --mkpath creates the slot's
// parents on first deploy to a fresh host.
func transferArgs(dir, user string, node domain.Node, slotPath string) []string {
	ssh := "ssh"
	if node.SSHPort != 0 {
		ssh = "ssh -p " + strconv.Itoa(node.SSHPort)
	}
	return []string{
		"--exclude=.git/",
		"-a", // archive mode: preserve symlinks, permissions, times
		"-F", // honor .rsync-filter files in the tree
		"--delete",
		"--mkpath",
		"-e", ssh,
		dir + "/",
		user + "@" + node.Location + ":" + slotPath,
	}
}
