package poll

import "time"

// Status is the normalized state of a remote CI run.
type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Scheduler computes the delay before the next remote status poll.
type Scheduler struct {
	Floor   time.Duration // first delay while jobs are running
	Step    time.Duration // growth per attempt while jobs are running
	Ceiling time.Duration // cap while jobs are running
	Queued  time.Duration // fixed delay while the run waits for a runner
	Default time.Duration // everything else
}

// DefaultScheduler returns the scheduler used when no poll settings are configured.
func DefaultScheduler() Scheduler {
	return Scheduler{
		Floor:   10 * time.Second,
		Step:    5 * time.Second,
		Ceiling: 30 * time.Second,
		Queued:  60 * time.Second,
		Default: 20 * time.Second,
	}
}

// NextDelay returns how long to wait before polling again.
// While jobs are active the delay grows linearly from Floor and is capped at
// Ceiling. A queued run gets the long fixed delay.
func (s Scheduler) NextDelay(status Status, attempt int, hasActiveJobs bool) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if hasActiveJobs {
		if s.Step > 0 && time.Duration(attempt) > (s.Ceiling-s.Floor)/s.Step {
			return s.Ceiling
		}
		d := s.Floor + time.Duration(attempt)*s.Step
		if d > s.Ceiling {
			return s.Ceiling
		}
		return d
	}
	if status == StatusQueued {
		return s.Queued
	}
	return s.Default
}
