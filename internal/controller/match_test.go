package controller

import (
	"testing"
	"time"

	"github.com/lucasnoah/converge/internal/github"
)

func TestMatchRun(t *testing.T) {
	pushed := baseTime
	runs := []github.Run{
		{ID: 1, HeadSHA: "old", CreatedAt: pushed.Add(-30 * time.Minute)},
		{ID: 2, HeadSHA: "other", CreatedAt: pushed.Add(-5 * time.Minute)},
		{ID: 3, HeadSHA: "merge-sha", CreatedAt: pushed.Add(40 * time.Second)},
		{ID: 4, HeadSHA: "abc", CreatedAt: pushed.Add(-20 * time.Minute)},
		{ID: 5, HeadSHA: "abc", CreatedAt: pushed.Add(-time.Minute)},
	}
	base := MatchCriteria{
		PostPushWindow: 2 * time.Minute,
		FallbackWindow: 10 * time.Minute,
		Now:            pushed.Add(time.Minute),
	}

	tests := []struct {
		name   string
		mutate func(m *MatchCriteria)
		runs   []github.Run
		wantID int64
		kind   MatchKind
	}{
		{"exact sha prefers newest", func(m *MatchCriteria) { m.CommitID = "abc" }, runs, 5, MatchSHA},
		{"post-push window", func(m *MatchCriteria) { m.CommitID = "zzz"; m.PushedAt = pushed }, runs, 3, MatchWindow},
		{"fallback only when allowed", func(m *MatchCriteria) { m.CommitID = "zzz"; m.AllowFallback = true }, runs[:3], 3, MatchFallback},
		{"fallback window too old", func(m *MatchCriteria) { m.CommitID = "zzz"; m.AllowFallback = true }, runs[:1], 0, MatchNone},
		{"no fallback after first attempt", func(m *MatchCriteria) { m.CommitID = "zzz" }, runs, 0, MatchNone},
		{"excluded runs are skipped", func(m *MatchCriteria) {
			m.CommitID = "abc"
			m.Exclude = map[int64]bool{5: true}
		}, runs, 4, MatchSHA},
		{"window tolerates clock skew", func(m *MatchCriteria) {
			m.CommitID = "zzz"
			m.PushedAt = pushed.Add(-5*time.Minute + 5*time.Second)
		}, runs[:2], 2, MatchWindow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			tt.mutate(&m)
			got, kind := MatchRun(tt.runs, m)
			if kind != tt.kind {
				t.Errorf("kind = %q, want %q", kind, tt.kind)
			}
			if tt.wantID == 0 {
				if got != nil {
					t.Errorf("expected no match, got run %d", got.ID)
				}
				return
			}
			if got == nil || got.ID != tt.wantID {
				t.Errorf("got %+v, want run %d", got, tt.wantID)
			}
		})
	}
}
