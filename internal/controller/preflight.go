package controller

import (
	"context"
	"fmt"

	"github.com/lucasnoah/converge/internal/github"
)

// resolve establishes the repository identity every later phase needs. Any
// failure here is fatal whether or not the pre-flight scan is enabled.
func (c *Controller) resolve(ctx context.Context) error {
	gitDir, err := c.deps.Git.GitDir(ctx, c.opts.Dir)
	if err != nil {
		return c.fatal(PhasePreflight, fmt.Sprintf("%s is not a git repository", c.opts.Dir), err)
	}
	c.gitDir = gitDir

	if !c.opts.Remote {
		return nil
	}
	branch, err := c.deps.Git.CurrentBranch(ctx, c.opts.Dir)
	if err != nil {
		return c.fatal(PhasePreflight, "cannot determine the branch to push", err)
	}
	c.branch = branch

	c.repo = c.opts.Repo
	if c.repo == "" {
		url, err := c.deps.Git.RemoteURL(ctx, c.opts.Dir)
		if err != nil {
			return c.fatal(PhasePreflight, "repository has no origin remote", err)
		}
		if c.repo, err = github.RepoSlug(url); err != nil {
			return c.fatal(PhasePreflight, "origin is not a recognizable repository URL", err)
		}
	}
	return nil
}

// preflight verifies the environment before anything is changed: a HEAD
// commit exists, the CI provider is authenticated and the agent can be
// launched.
func (c *Controller) preflight(ctx context.Context) error {
	c.logf("pre-flight scan")
	if _, err := c.deps.Git.CurrentCommit(ctx, c.opts.Dir); err != nil {
		return c.fatal(PhasePreflight, "repository has no commits", err)
	}
	if c.opts.Remote {
		if err := c.deps.CI.AuthStatus(ctx); err != nil {
			return c.fatal(PhasePreflight, "CI provider is not authenticated", err)
		}
	}
	if err := c.deps.Agent.Available(); err != nil {
		return c.fatal(PhasePreflight, "remediation agent is not available", err)
	}
	if len(c.opts.Steps) == 0 {
		return c.fatal(PhasePreflight, "no checks configured or detected", nil)
	}
	c.event("preflight_passed", PhasePreflight, c.repo)
	return nil
}
