package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlot(t *testing.T) {
	tests := []struct {
		name    string
		baseDir string
		id      Identifier
		want    string
	}{
		{
			name:    "default base directory",
			baseDir: DefaultBaseDir,
			id:      "abc123",
			want:    "/etc/henix/abc123",
		},
		{
			name:    "custom base directory",
			baseDir: "/var/lib/deploy",
			id:      "abc123",
			want:    "/var/lib/deploy/abc123",
		},
		{
			name:    "trailing slash on base is normalized",
			baseDir: "/etc/henix/",
			id:      "abc123",
			want:    "/etc/henix/abc123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slot(tt.baseDir, tt.id))
		})
	}
}

func TestSlot_IsPure(t *testing.T) {
	// Same arguments always yield the same path.
	assert.Equal(t, Slot(DefaultBaseDir, "h1"), Slot(DefaultBaseDir, "h1"))

	// Distinct identifiers never collide on the same slot.
	assert.NotEqual(t, Slot(DefaultBaseDir, "h1"), Slot(DefaultBaseDir, "h2"))
}

func TestReport_AllSucceeded(t *testing.T) {
	tests := []struct {
		name     string
		attempts []Attempt
		want     bool
	}{
		{
			name: "all succeeded",
			attempts: []Attempt{
				{Node: Node{Name: "a"}, State: StateSucceeded},
				{Node: Node{Name: "b"}, State: StateSucceeded},
			},
			want: true,
		},
		{
			name: "one failed",
			attempts: []Attempt{
				{Node: Node{Name: "a"}, State: StateSucceeded},
				{Node: Node{Name: "b"}, State: StateFailed, Failure: FailureBuild},
			},
			want: false,
		},
		{
			name:     "no attempts",
			attempts: nil,
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := &Report{Identifier: "h1", Attempts: tt.attempts}
			assert.Equal(t, tt.want, report.AllSucceeded())
		})
	}
}

func TestReport_Failed(t *testing.T) {
	report := &Report{
		Identifier: "h1",
		Attempts: []Attempt{
			{Node: Node{Name: "a"}, State: StateFailed, Failure: FailureBuild},
			{Node: Node{Name: "b"}, State: StateSucceeded},
			{Node: Node{Name: "c"}, State: StateFailed, Failure: FailureTransfer},
		},
	}

	failed := report.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, "a", failed[0].Node.Name)
	assert.Equal(t, "c", failed[1].Node.Name)
}

func TestSelectNodes(t *testing.T) {
	inventory := []Node{
		{Name: "db1", Location: "10.0.0.1"},
		{Name: "web1", Location: "10.0.0.2"},
		{Name: "web2", Location: "10.0.0.3"},
	}

	tests := []struct {
		name      string
		targets   []string
		wantNames []string
		wantErr   error
	}{
		{
			name:      "empty target list selects everything",
			targets:   nil,
			wantNames: []string{"db1", "web1", "web2"},
		},
		{
			name:      "subset preserves inventory order",
			targets:   []string{"web2", "db1"},
			wantNames: []string{"db1", "web2"},
		},
		{
			name:    "unknown target is an error",
			targets: []string{"web1", "ghost"},
			wantErr: ErrNodeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected, err := SelectNodes(inventory, tt.targets)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			names := make([]string, 0, len(selected))
			for _, n := range selected {
				names = append(names, n.Name)
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}
