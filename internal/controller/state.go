package controller

import (
	"time"

	"github.com/lucasnoah/converge/internal/github"
	"github.com/lucasnoah/converge/internal/poll"
)

// Budget holds every cap the controller enforces.
type Budget struct {
	MaxFixAttempts   int // per failing step, before the interactive fallback
	MaxRemoteRetries int // failed-run remediations per commit; also discovery retries
	MaxRounds        int // full passes over the step list per local verification
	MaxPushes        int // per invocation
	MaxPolls         int // per RunState
	RemoteTimeout    time.Duration
}

// RunState tracks the remote CI run for one commit. A new commit gets a new
// RunState; a RunState is never reused for another commit.
type RunState struct {
	CommitID          string
	LastRunID         int64
	RunURL            string
	Status            poll.Status
	Conclusion        string
	PollAttempt       int
	HasPendingCommits bool
	Retries           int

	fixedJobs map[string]bool
	fixOrder  []string
}

// NewRunState starts tracking commitID.
func NewRunState(commitID string) *RunState {
	return &RunState{
		CommitID:  commitID,
		Status:    poll.StatusUnknown,
		fixedJobs: make(map[string]bool),
	}
}

// Attach binds the state to a discovered run.
func (s *RunState) Attach(run *github.Run) {
	s.LastRunID = run.ID
	s.RunURL = run.URL
	s.Observe(run)
}

// Observe copies a polled run's status into the state.
func (s *RunState) Observe(run *github.Run) {
	s.Status = runStatus(run.Status)
	s.Conclusion = run.Conclusion
}

// MarkFixed records that a job was handed to remediation. The set only grows.
func (s *RunState) MarkFixed(job string) {
	if s.fixedJobs[job] {
		return
	}
	s.fixedJobs[job] = true
	s.fixOrder = append(s.fixOrder, job)
}

// IsFixed reports whether job was already remediated for this run.
func (s *RunState) IsFixed(job string) bool {
	return s.fixedJobs[job]
}

// FixedJobs lists remediated jobs in the order they were handled.
func (s *RunState) FixedJobs() []string {
	return append([]string(nil), s.fixOrder...)
}

// NewFailures returns the failed jobs that have not been remediated yet, in
// the order given.
func (s *RunState) NewFailures(jobs []github.Job) []github.Job {
	var out []github.Job
	for _, j := range jobs {
		if j.Failed() && !s.fixedJobs[j.Name] {
			out = append(out, j)
		}
	}
	return out
}

func runStatus(s string) poll.Status {
	switch s {
	case "queued", "waiting", "pending", "requested":
		return poll.StatusQueued
	case "in_progress":
		return poll.StatusInProgress
	case "completed":
		return poll.StatusCompleted
	default:
		return poll.StatusUnknown
	}
}
