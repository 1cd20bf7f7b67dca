// Package git reads repository state so pipeline records can point back at
// the code an item was working on.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotRepository is returned when the path is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// RepoState is the branch, commit and uncommitted paths of a work tree.
type RepoState struct {
	Branch string `json:"branch"`
	Head   string `json:"head,omitempty"`
	// Changed lists paths reported by git status, relative to the repo root.
	Changed []string `json:"changed,omitempty"`
}

// Dirty reports whether the work tree has uncommitted changes.
func (s *RepoState) Dirty() bool {
	return len(s.Changed) > 0
}

// Inspector runs git in a repository.
type Inspector struct {
	binary string
}

// NewInspector returns an Inspector using git from PATH.
func NewInspector() *Inspector {
	return &Inspector{binary: "git"}
}

// run executes a git command and returns its output.
func (i *Inspector) run(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, i.binary, args...)
	cmd.Dir = repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (i *Inspector) line(ctx context.Context, repoPath string, args ...string) (string, error) {
	out, err := i.run(ctx, repoPath, args...)
	return strings.TrimSpace(out), err
}

// Inspect captures the state of the work tree at repoPath. A repository
// without commits has an empty Head.
func (i *Inspector) Inspect(ctx context.Context, repoPath string) (*RepoState, error) {
	inside, err := i.line(ctx, repoPath, "rev-parse", "--is-inside-work-tree")
	if err != nil || inside != "true" {
		return nil, ErrNotRepository
	}

	state := &RepoState{}
	if state.Branch, err = i.line(ctx, repoPath, "branch", "--show-current"); err != nil {
		return nil, err
	}
	if head, err := i.line(ctx, repoPath, "rev-parse", "--verify", "-q", "HEAD"); err == nil {
		state.Head = head
	}

	status, err := i.run(ctx, repoPath, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	for _, entry := range strings.Split(status, "\n") {
		if len(entry) > 3 {
			state.Changed = append(state.Changed, entry[3:])
		}
	}
	return state, nil
}
