package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henix-dev/henix/internal/domain"
)

// mockLogger implements the Logger interface for testing.
type mockLogger struct{}

func (m *mockLogger) Info(_ context.Context, _ string, _ map[string]any)           {}
func (m *mockLogger) Debug(_ context.Context, _ string, _ map[string]any)          {}
func (m *mockLogger) Warn(_ context.Context, _ string, _ map[string]any)           {}
func (m *mockLogger) Error(_ context.Context, _ string, _ error, _ map[string]any) {}

// mockDeployer implements domain.Deployer for testing.
type mockDeployer struct {
	report *domain.Report
	err    error
	calls  int
	nodes  []domain.Node
}

func (m *mockDeployer) Deploy(_ context.Context, _ string, nodes []domain.Node) (*domain.Report, error) {
	m.calls++
	m.nodes = nodes
	if m.err != nil {
		return nil, m.err
	}
	return m.report, nil
}

// mockReportWriter implements domain.ReportWriter for testing. out records
// the destination the factory was handed.
type mockReportWriter struct {
	report *domain.Report
	out    io.Writer
}

func (m *mockReportWriter) WriteReport(report *domain.Report) error {
	m.report = report
	return nil
}

// testDeps builds a full Dependencies set around the given deployer and
// inventory.
func testDeps(deployer *mockDeployer, writer *mockReportWriter, nodes []domain.Node, inventoryErr error) *Dependencies {
	return &Dependencies{
		LoggerFactory: func(_ string) (Logger, error) {
			return &mockLogger{}, nil
		},
		ConfigLoader: func() (*AppConfig, error) {
			return &AppConfig{
				BaseDir:  domain.DefaultBaseDir,
				SSHUser:  "root",
				LogLevel: "info",
			}, nil
		},
		InventoryLoader: func(_ context.Context, _, _ string) ([]domain.Node, error) {
			if inventoryErr != nil {
				return nil, inventoryErr
			}
			return nodes, nil
		},
		HasherFactory: func() domain.TreeHasher { return nil },
		TransportFactory: func(_ *AppConfig, _ Logger) domain.Transport {
			return nil
		},
		RunnerFactory: func(_ *AppConfig, _ DeployOptions, _ Logger) domain.Runner {
			return nil
		},
		DeployerFactory: func(_ domain.TreeHasher, _ domain.Transport, _ domain.Runner, _ string, _ Logger) domain.Deployer {
			return deployer
		},
		ReportWriterFactory: func(out io.Writer) domain.ReportWriter {
			writer.out = out
			return writer
		},
	}
}

func execute(t *testing.T, deps *Dependencies, args ...string) error {
	t.Helper()
	root := NewRootCmdWithDeps(deps)
	root.SetArgs(append([]string{"deploy", "--cfg-dir", t.TempDir()}, args...))
	return root.Execute()
}

func TestDeploy_AllNodesSucceed(t *testing.T) {
	nodes := []domain.Node{{Name: "web1", Location: "h1"}, {Name: "db1", Location: "h2"}}
	deployer := &mockDeployer{
		report: &domain.Report{
			Identifier: "h1",
			Attempts: []domain.Attempt{
				{Node: nodes[0], State: domain.StateSucceeded},
				{Node: nodes[1], State: domain.StateSucceeded},
			},
		},
	}
	writer := &mockReportWriter{}

	err := execute(t, testDeps(deployer, writer, nodes, nil))

	require.NoError(t, err)
	assert.Equal(t, 1, deployer.calls)
	require.NotNil(t, writer.report)
	assert.Equal(t, domain.Identifier("h1"), writer.report.Identifier)
}

func TestDeploy_FailedNodeReturnsDeployFailed(t *testing.T) {
	nodes := []domain.Node{{Name: "web1", Location: "h1"}}
	deployer := &mockDeployer{
		report: &domain.Report{
			Identifier: "h1",
			Attempts: []domain.Attempt{
				{Node: nodes[0], State: domain.StateFailed, Failure: domain.FailureBuild},
			},
		},
	}
	writer := &mockReportWriter{}

	err := execute(t, testDeps(deployer, writer, nodes, nil))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeployFailed)
	// The report is still written before the failure is surfaced.
	assert.NotNil(t, writer.report)
}

func TestDeploy_TargetSelection(t *testing.T) {
	nodes := []domain.Node{
		{Name: "db1", Location: "h1"},
		{Name: "web1", Location: "h2"},
		{Name: "web2", Location: "h3"},
	}
	deployer := &mockDeployer{
		report: &domain.Report{Identifier: "h1"},
	}

	err := execute(t, testDeps(deployer, &mockReportWriter{}, nodes, nil), "-t", "web1")

	require.NoError(t, err)
	require.Len(t, deployer.nodes, 1)
	assert.Equal(t, "web1", deployer.nodes[0].Name)
}

func TestDeploy_UnknownTarget(t *testing.T) {
	nodes := []domain.Node{{Name: "web1", Location: "h1"}}
	deployer := &mockDeployer{}

	err := execute(t, testDeps(deployer, &mockReportWriter{}, nodes, nil), "-t", "ghost")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNodeNotFound)
	assert.Contains(t, err.Error(), "git add")
	assert.Zero(t, deployer.calls, "no attempt may start when a target is unknown")
}

func TestDeploy_UnreadableTreeAborts(t *testing.T) {
	nodes := []domain.Node{{Name: "web1", Location: "h1"}}
	deployer := &mockDeployer{
		err: fmt.Errorf("deriving configuration identifier: %w", domain.ErrTreeUnreadable),
	}
	writer := &mockReportWriter{}

	err := execute(t, testDeps(deployer, writer, nodes, nil))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTreeUnreadable)
	assert.NotErrorIs(t, err, ErrDeployFailed)
	assert.Nil(t, writer.report)
}

func TestDeploy_InventoryError(t *testing.T) {
	deployer := &mockDeployer{}

	err := execute(t, testDeps(deployer, &mockReportWriter{}, nil, domain.ErrInventoryRequired))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInventoryRequired)
	assert.Zero(t, deployer.calls)
}

func TestDeploy_NilDependencies(t *testing.T) {
	root := NewRootCmdWithDeps(nil)
	root.SetArgs([]string{"deploy"})

	err := root.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependencies not configured")
}

func TestDeploy_ReportWriterReceivesConfiguredStdout(t *testing.T) {
	nodes := []domain.Node{{Name: "web1", Location: "h1"}}
	deployer := &mockDeployer{
		report: &domain.Report{
			Identifier: "h1",
			Attempts:   []domain.Attempt{{Node: nodes[0], State: domain.StateSucceeded}},
		},
	}
	writer := &mockReportWriter{}
	deps := testDeps(deployer, writer, nodes, nil)
	var stdout bytes.Buffer
	deps.Stdout = &stdout

	err := execute(t, deps)

	require.NoError(t, err)
	assert.Same(t, &stdout, writer.out)
}

func TestDeploy_DirtyWorktreeWarningIsNonFatal(t *testing.T) {
	nodes := []domain.Node{{Name: "web1", Location: "h1"}}
	deployer := &mockDeployer{
		report: &domain.Report{
			Identifier: "h1",
			Attempts:   []domain.Attempt{{Node: nodes[0], State: domain.StateSucceeded}},
		},
	}
	deps := testDeps(deployer, &mockReportWriter{}, nodes, nil)
	probed := false
	deps.WorktreeProbe = func(_ string) ([]string, bool, error) {
		probed = true
		return []string{"hosts.nix"}, true, nil
	}
	var warned bytes.Buffer
	deps.Stderr = &warned

	err := execute(t, deps)

	require.NoError(t, err)
	assert.True(t, probed)
	assert.Contains(t, warned.String(), "uncommitted")
}
