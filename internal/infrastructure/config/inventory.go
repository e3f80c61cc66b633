package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/henix-dev/henix/internal/domain"
)

// inventoryFile is the YAML inventory looked for in the configuration
// directory when no explicit path is configured.
const inventoryFile = "henix.yaml"

// deployAttr is the flake output evaluated for the inventory.
const deployAttr = ".#deploy"

// nodeSpec is the wire schema of one inventory node. The JSON tags match
// the flake's deploy output; the YAML tags match henix.yaml.
type nodeSpec struct {
	Location string `json:"location" yaml:"location"`
	SSHPort  int    `json:"sshPort" yaml:"sshPort"`
}

// inventoryDoc is the wire schema of the whole inventory.
type inventoryDoc struct {
	Nodes map[string]nodeSpec `json:"nodes" yaml:"nodes"`
}

// EvalFunc evaluates a flake attribute to JSON in the given directory.
// Injectable so inventory loading is testable without a nix installation.
type EvalFunc func(ctx context.Context, dir, attr string) ([]byte, error)

// NixEval is the production EvalFunc: `nix eval --json -- <attr>` run in dir.
func NixEval(ctx context.Context, dir, attr string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "nix", "eval", "--json", "--", attr)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("nix eval %s: %w; stderr:\n%s", attr, err, stderr.String())
	}
	return out, nil
}

// InventoryLoader resolves the node inventory for a configuration directory.
type InventoryLoader struct {
	// ExplicitPath, when set, names a YAML inventory file and wins over
	// every other source.
	ExplicitPath string

	// Eval evaluates flake attributes; defaults to NixEval.
	Eval EvalFunc
}

// Load resolves the inventory for cfgDir. Source precedence: the explicit
// path if configured, then a henix.yaml inside cfgDir, then the flake's
// .#deploy output. Nodes are returned sorted by name so fan-out order and
// reports are stable.
func (l *InventoryLoader) Load(ctx context.Context, cfgDir string) ([]domain.Node, error) {
	if l.ExplicitPath != "" {
		return l.loadFile(l.ExplicitPath)
	}

	local := filepath.Join(cfgDir, inventoryFile)
	if _, err := os.Stat(local); err == nil {
		return l.loadFile(local)
	}

	eval := l.Eval
	if eval == nil {
		eval = NixEval
	}
	raw, err := eval(ctx, cfgDir, deployAttr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInventoryRequired, err)
	}

	var doc inventoryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s does not match the deploy schema: %w", domain.ErrInventoryInvalid, deployAttr, err)
	}
	return nodesFromDoc(&doc)
}

// loadFile reads a YAML inventory file.
func (l *InventoryLoader) loadFile(path string) ([]domain.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", domain.ErrInventoryRequired, path, err)
	}
	var doc inventoryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrInventoryInvalid, path, err)
	}
	return nodesFromDoc(&doc)
}

// nodesFromDoc validates and sorts the decoded inventory.
func nodesFromDoc(doc *inventoryDoc) ([]domain.Node, error) {
	if len(doc.Nodes) == 0 {
		return nil, domain.ErrNoNodes
	}
	nodes := make([]domain.Node, 0, len(doc.Nodes))
	for name, spec := range doc.Nodes {
		if spec.Location == "" {
			return nil, fmt.Errorf("%w: node %q has no location", domain.ErrInventoryInvalid, name)
		}
		nodes = append(nodes, domain.Node{
			Name:     name,
			Location: spec.Location,
			SSHPort:  spec.SSHPort,
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}
