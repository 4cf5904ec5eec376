package controller

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Factory builds the controller for one repository directory.
type Factory func(dir string) (*Controller, error)

// RepoResult is the outcome of one repository in a cross-repository run.
type RepoResult struct {
	Dir     string
	Outcome *Outcome
	Err     error
}

// RunAll runs one independent controller per directory with at most
// concurrency running at once. A failing repository does not cancel the
// others. Results are returned in the order of dirs.
func RunAll(ctx context.Context, dirs []string, concurrency int, build Factory) []RepoResult {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]RepoResult, len(dirs))
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, dir := range dirs {
		g.Go(func() error {
			results[i] = runOne(ctx, dir, build)
			return nil
		})
	}
	g.Wait()
	return results
}

func runOne(ctx context.Context, dir string, build Factory) RepoResult {
	res := RepoResult{Dir: dir}
	c, err := build(dir)
	if err != nil {
		res.Err = fmt.Errorf("%s: %w", dir, err)
		return res
	}
	res.Outcome, res.Err = c.Run(ctx)
	return res
}

// AllConverged reports whether every repository converged.
func AllConverged(results []RepoResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return false
		}
	}
	return true
}
