package vcs

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// SnapshotRefPrefix namespaces restore points so they never collide with
// branches or tags.
const SnapshotRefPrefix = "refs/converge/snapshots/"

var refUnsafeRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Snapshot records the current working tree, including uncommitted edits, as
// a restore point without touching the index or the tree. A clean tree is
// recorded as HEAD. Returns the ref written.
func (g *Git) Snapshot(ctx context.Context, dir, label string) (string, error) {
	sha, err := g.git.Run(ctx, dir, "stash", "create", "converge snapshot "+label)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	if sha == "" {
		if sha, err = g.CurrentCommit(ctx, dir); err != nil {
			return "", fmt.Errorf("snapshot: %w", err)
		}
	}
	ref := SnapshotRefPrefix + refName(label)
	if _, err := g.git.Run(ctx, dir, "update-ref", ref, sha); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	return ref, nil
}

// Restore resets the working tree to a snapshot made by Snapshot.
func (g *Git) Restore(ctx context.Context, dir, ref string) error {
	if !strings.HasPrefix(ref, SnapshotRefPrefix) {
		return fmt.Errorf("restore: %q is not a snapshot ref", ref)
	}
	if _, err := g.git.Run(ctx, dir, "checkout", ref, "--", "."); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	return nil
}

func refName(label string) string {
	name := strings.Trim(refUnsafeRe.ReplaceAllString(label, "-"), "-.")
	if name == "" {
		name = "snapshot"
	}
	return name
}
