package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/lelandsequel/shipmachine/pkg/governance"
)

// Author identifies the committer of automated changes
type Author struct {
	Name  string
	Email string
}

// DefaultAuthor is used when Commit receives an empty author
var DefaultAuthor = Author{Name: "shipmachine", Email: "shipmachine@localhost"}

// VersionControl operates on the git repository at the workspace root
type VersionControl struct {
	policy Policy
	guard  *Guard
	role   string
	repo   *git.Repository
}

// OpenVersionControl opens the repository containing the workspace
func OpenVersionControl(policy Policy, guard *Guard, role string) (*VersionControl, error) {
	repo, err := git.PlainOpenWithOptions(guard.WorkspaceDir(), &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}
	return &VersionControl{policy: policy, guard: guard, role: role, repo: repo}, nil
}

func (v *VersionControl) check() error {
	return checkTool(v.policy, v.role, governance.ToolVersionControl)
}

// CurrentBranch returns the short name of the checked-out branch, or the
// abbreviated commit hash when HEAD is detached
func (v *VersionControl) CurrentBranch() (string, error) {
	if err := v.check(); err != nil {
		return "", err
	}
	ref, err := v.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}
	if ref.Type() == plumbing.SymbolicReference {
		return ref.Target().Short(), nil
	}
	return ref.Hash().String()[:7], nil
}

// ChangedFiles lists modified, staged and untracked files in sorted order
func (v *VersionControl) ChangedFiles() ([]string, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	status, err := v.status()
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(status))
	for path, s := range status {
		if s.Staging == git.Unmodified && s.Worktree == git.Unmodified {
			continue
		}
		files = append(files, path)
	}
	sort.Strings(files)
	return files, nil
}

// IsClean reports whether the worktree has no changes
func (v *VersionControl) IsClean() (bool, error) {
	if err := v.check(); err != nil {
		return false, err
	}
	status, err := v.status()
	if err != nil {
		return false, err
	}
	return status.IsClean(), nil
}

func (v *VersionControl) status() (git.Status, error) {
	wt, err := v.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read git status: %w", err)
	}
	return status, nil
}

// CreateBranch checks out name, creating it from HEAD when it does not exist.
// Uncommitted changes are kept.
func (v *VersionControl) CreateBranch(name string) error {
	if err := v.check(); err != nil {
		return err
	}
	wt, err := v.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}

	refName := plumbing.NewBranchReferenceName(name)
	_, err = v.repo.Reference(refName, false)
	exists := err == nil
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("failed to look up branch '%s': %w", name, err)
	}

	if err := wt.Checkout(&git.CheckoutOptions{Branch: refName, Create: !exists, Keep: true}); err != nil {
		return fmt.Errorf("failed to checkout branch '%s': %w", name, err)
	}
	return nil
}

// Commit stages every change and commits it, returning the new commit hash
func (v *VersionControl) Commit(message string, author Author) (string, error) {
	if err := v.check(); err != nil {
		return "", err
	}
	if author.Name == "" || author.Email == "" {
		author = DefaultAuthor
	}
	wt, err := v.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: author.Name, Email: author.Email, When: time.Now()},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create commit: %w", err)
	}
	return hash.String(), nil
}

// Diff renders unified diffs of paths against HEAD. With no paths every
// changed file is included.
func (v *VersionControl) Diff(paths []string) (string, error) {
	if err := v.check(); err != nil {
		return "", err
	}
	if len(paths) == 0 {
		changed, err := v.ChangedFiles()
		if err != nil {
			return "", err
		}
		paths = changed
	}

	head, err := v.headCommit()
	if err != nil {
		return "", err
	}

	var out string
	for _, p := range paths {
		before, err := fileAtCommit(head, p)
		if err != nil {
			return "", err
		}
		after := ""
		data, err := os.ReadFile(filepath.Join(v.guard.WorkspaceDir(), filepath.FromSlash(p)))
		switch {
		case err == nil:
			after = string(data)
		case !os.IsNotExist(err):
			return "", fmt.Errorf("failed to read %s: %w", p, err)
		}
		out += UnifiedDiff(p, before, after)
	}
	return out, nil
}

// headCommit returns the HEAD commit, or nil for a repository without commits
func (v *VersionControl) headCommit() (*object.Commit, error) {
	ref, err := v.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := v.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to load HEAD commit: %w", err)
	}
	return commit, nil
}

func fileAtCommit(commit *object.Commit, path string) (string, error) {
	if commit == nil {
		return "", nil
	}
	f, err := commit.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s at HEAD: %w", path, err)
	}
	return f.Contents()
}

// Rollback discards uncommitted changes and removes untracked files
func (v *VersionControl) Rollback() error {
	if err := v.check(); err != nil {
		return err
	}
	wt, err := v.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to open worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset}); err != nil {
		return fmt.Errorf("failed to rollback changes: %w", err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("failed to clean untracked files: %w", err)
	}
	return nil
}
