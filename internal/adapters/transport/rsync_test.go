package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henix-dev/henix/internal/domain"
)

func TestTransferArgs(t *testing.T) {
	node := domain.Node{Name: "web1", Location: "203.0.113.10"}

	args := transferArgs("/home/ops/fleet", "root", node, "/etc/henix/h1")

	assert.Equal(t, []string{
		"--exclude=.git/",
		"-a",
		"-F",
		"--delete",
		"--mkpath",
		"-e", "ssh",
		"/home/ops/fleet/",
		"root@203.0.113.10:/etc/henix/h1",
	}, args)
}

func TestTransferArgs_SourceHasTrailingSlash(t *testing.T) {
	// The slash makes rsync ship the directory's contents into the slot
	// rather than nesting the directory inside it.
	args := transferArgs("/cfg", "root", domain.Node{Location: "h"}, "/etc/henix/h1")

	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, "/cfg/", args[len(args)-2])
}

func TestTransferArgs_PortOverride(t *testing.T) {
	node := domain.Node{Name: "web1", Location: "h", SSHPort: 2222}

	args := transferArgs("/cfg", "deploy", node, "/etc/henix/h1")

	assert.Contains(t, args, "ssh -p 2222")
	assert.Equal(t, "deploy@h:/etc/henix/h1", args[len(args)-1])
}

func TestTransferArgs_SameInputsSameArgs(t *testing.T) {
	node := domain.Node{Location: "h"}

	a := transferArgs("/cfg", "root", node, "/etc/henix/h1")
	b := transferArgs("/cfg", "root", node, "/etc/henix/h1")

	assert.Equal(t, a, b)
}
