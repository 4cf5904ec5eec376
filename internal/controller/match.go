package controller

import (
	"sort"
	"time"

	"github.com/lucasnoah/converge/internal/github"
)

// MatchKind names the rule that associated a CI run with a commit.
type MatchKind string

const (
	MatchNone     MatchKind = ""
	MatchSHA      MatchKind = "sha"
	MatchWindow   MatchKind = "post-push window"
	MatchFallback MatchKind = "fallback"
)

// clockSkew tolerates CI timestamps slightly ahead of the local clock.
const clockSkew = 10 * time.Second

// MatchCriteria describes the commit a run is looked up for.
type MatchCriteria struct {
	CommitID       string
	PushedAt       time.Time // zero when this invocation did not push
	PostPushWindow time.Duration
	FallbackWindow time.Duration
	AllowFallback  bool
	Now            time.Time
	Exclude        map[int64]bool // runs already tracked for earlier commits
}

// MatchRun picks the CI run for a commit. Rules are tried in order: exact
// head SHA, creation within the post-push window, and (when allowed) the
// newest run inside the fallback window. Within a rule the newest run wins.
// The heuristic can pick a run for a different commit when a branch is
// pushed by several parties at once.
func MatchRun(runs []github.Run, m MatchCriteria) (*github.Run, MatchKind) {
	sorted := make([]github.Run, 0, len(runs))
	for _, r := range runs {
		if !m.Exclude[r.ID] {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	for i := range sorted {
		if m.CommitID != "" && sorted[i].HeadSHA == m.CommitID {
			return &sorted[i], MatchSHA
		}
	}
	if !m.PushedAt.IsZero() {
		from := m.PushedAt.Add(-clockSkew)
		until := m.PushedAt.Add(m.PostPushWindow)
		for i := range sorted {
			t := sorted[i].CreatedAt
			if !t.Before(from) && !t.After(until) {
				return &sorted[i], MatchWindow
			}
		}
	}
	if m.AllowFallback && len(sorted) > 0 {
		if m.Now.Sub(sorted[0].CreatedAt) <= m.FallbackWindow {
			return &sorted[0], MatchFallback
		}
	}
	return nil, MatchNone
}
