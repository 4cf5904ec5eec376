// Package report persists the last known controller state so an operator
// can pick up where an unattended run stopped.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// FileName is the report's name inside <git-dir>/converge.
const FileName = "last-state.json"

// Outcome values.
const (
	OutcomeConverged = "converged"
	OutcomeStopped   = "stopped"
)

// State is the snapshot written on every terminal outcome.
type State struct {
	InvocationID    string    `json:"invocation_id"`
	Repo            string    `json:"repo"`
	Dir             string    `json:"dir"`
	Outcome         string    `json:"outcome"`
	Kind            string    `json:"kind,omitempty"`
	Phase           string    `json:"phase"`
	Reason          string    `json:"reason,omitempty"`
	CommitID        string    `json:"commit_id,omitempty"`
	RunID           int64     `json:"run_id,omitempty"`
	RunURL          string    `json:"run_url,omitempty"`
	RemainingLocal  int       `json:"remaining_local"`
	RemainingRemote int       `json:"remaining_remote"`
	Pushes          int       `json:"pushes"`
	Commits         int       `json:"commits"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Converged reports whether the run ended in full convergence.
func (s *State) Converged() bool {
	return s.Outcome == OutcomeConverged
}

// Path returns the report location for a repository's git dir.
func Path(gitDir string) string {
	return filepath.Join(gitDir, "converge", FileName)
}

// Save writes s to the repository's report file.
func Save(gitDir string, s *State) error {
	if err := WriteJSON(Path(gitDir), s); err != nil {
		return fmt.Errorf("saving last state: %w", err)
	}
	return nil
}

// Load reads the repository's report file.
func Load(gitDir string) (*State, error) {
	var s State
	if err := ReadJSON(Path(gitDir), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Fprint writes the human-readable form of s.
func Fprint(w io.Writer, s *State) {
	var b strings.Builder
	fmt.Fprintf(&b, "repo:      %s\n", s.Dir)
	fmt.Fprintf(&b, "outcome:   %s\n", s.Outcome)
	fmt.Fprintf(&b, "phase:     %s\n", s.Phase)
	if s.Kind != "" {
		fmt.Fprintf(&b, "kind:      %s\n", s.Kind)
	}
	if s.Reason != "" {
		fmt.Fprintf(&b, "reason:    %s\n", s.Reason)
	}
	if s.CommitID != "" {
		fmt.Fprintf(&b, "commit:    %s\n", s.CommitID)
	}
	if s.RunID != 0 {
		fmt.Fprintf(&b, "run:       %d %s\n", s.RunID, s.RunURL)
	}
	fmt.Fprintf(&b, "remaining: local %d, remote %d\n", s.RemainingLocal, s.RemainingRemote)
	fmt.Fprintf(&b, "commits:   %d, pushes %d\n", s.Commits, s.Pushes)
	io.WriteString(w, b.String())
}
