package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.CommandContext.
type ExecGit struct{}

func (g *ExecGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Git is the version-control host the controller commits and pushes through.
type Git struct {
	git GitRunner
}

// New creates a Git host over the given runner.
func New(git GitRunner) *Git {
	return &Git{git: git}
}

// StatusPorcelain returns `git status --porcelain`; empty means a clean tree.
func (g *Git) StatusPorcelain(ctx context.Context, dir string) (string, error) {
	out, err := g.git.Run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	return out, nil
}

// StageAll stages every change in the working tree, including deletions.
func (g *Git) StageAll(ctx context.Context, dir string) error {
	if _, err := g.git.Run(ctx, dir, "add", "-A"); err != nil {
		return fmt.Errorf("stage: %w", err)
	}
	return nil
}

// DiffStaged returns the staged diff.
func (g *Git) DiffStaged(ctx context.Context, dir string) (string, error) {
	out, err := g.git.Run(ctx, dir, "diff", "--cached")
	if err != nil {
		return "", fmt.Errorf("diff staged: %w", err)
	}
	return out, nil
}

// Commit records the staged changes. noVerify skips commit hooks.
func (g *Git) Commit(ctx context.Context, dir, message string, noVerify bool) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("commit: empty message")
	}
	args := []string{"commit", "-m", message}
	if noVerify {
		args = append(args, "--no-verify")
	}
	if _, err := g.git.Run(ctx, dir, args...); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Push pushes the current branch. Branches without an upstream are pushed
// to origin with tracking set.
func (g *Git) Push(ctx context.Context, dir string, noVerify bool) error {
	args := []string{"push"}
	if _, err := g.git.Run(ctx, dir, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}"); err != nil {
		branch, berr := g.CurrentBranch(ctx, dir)
		if berr != nil {
			return fmt.Errorf("push: %w", berr)
		}
		if strings.HasPrefix(branch, "-") {
			return fmt.Errorf("invalid branch name %q: must not start with -", branch)
		}
		args = append(args, "-u", "origin", branch)
	}
	if noVerify {
		args = append(args, "--no-verify")
	}
	if _, err := g.git.Run(ctx, dir, args...); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

// CurrentCommit returns the full HEAD commit id.
func (g *Git) CurrentCommit(ctx context.Context, dir string) (string, error) {
	out, err := g.git.Run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current commit: %w", err)
	}
	return out, nil
}

// CurrentBranch returns the checked out branch name.
func (g *Git) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := g.git.Run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current branch: %w", err)
	}
	if out == "HEAD" {
		return "", fmt.Errorf("current branch: detached HEAD")
	}
	return out, nil
}

// RemoteURL returns the fetch URL of origin.
func (g *Git) RemoteURL(ctx context.Context, dir string) (string, error) {
	out, err := g.git.Run(ctx, dir, "remote", "get-url", "origin")
	if err != nil {
		return "", fmt.Errorf("remote url: %w", err)
	}
	return out, nil
}

// GitDir returns the absolute path of the repository's git directory.
func (g *Git) GitDir(ctx context.Context, dir string) (string, error) {
	out, err := g.git.Run(ctx, dir, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return "", fmt.Errorf("git dir: %w", err)
	}
	return filepath.Clean(out), nil
}
