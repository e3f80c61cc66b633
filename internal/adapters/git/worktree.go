// Package git provides the worktree cleanliness probe for configuration
// directories. Flake evaluation only sees committed or staged files, so a
// dirty worktree means the remote build may silently ignore local edits.
package git

import (
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
)

// ErrNotARepository indicates the configuration directory is not under git.
// Callers treat this as "nothing to check", not as a failure.
var ErrNotARepository = errors.New("configuration directory is not a git repository")

// WorktreeStatus summarizes the cleanliness of a configuration directory's
// git worktree.
type WorktreeStatus struct {
	// Clean is true when the worktree has no modified, staged-but-dirty,
	// or untracked files.
	Clean bool

	// DirtyPaths lists the offending paths when Clean is false.
	DirtyPaths []string
}

// Checker probes configuration directories for uncommitted changes.
type Checker struct{}

// NewChecker creates a Checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Status reports the worktree status of the repository at path.
// Returns ErrNotARepository when path is not inside a git repository.
func (c *Checker) Status(path string) (*WorktreeStatus, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{
		DetectDotGit: true,
	})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotARepository, path)
		}
		return nil, fmt.Errorf("opening repository at %s: %w", path, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("resolving worktree: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("reading worktree status: %w", err)
	}

	result := &WorktreeStatus{Clean: status.IsClean()}
	if result.Clean {
		return result, nil
	}
	for p, s := range status {
		if s.Worktree == gogit.Unmodified && s.Staging == gogit.Unmodified {
			continue
		}
		result.DirtyPaths = append(result.DirtyPaths, p)
	}
	return result, nil
}
