package controller

import (
	"context"

	"github.com/lucasnoah/converge/internal/fingerprint"
)

// StepReport is the dry-run result of one step.
type StepReport struct {
	Name        string
	Command     string
	Passed      bool
	ExitCode    int
	TimedOut    bool
	DurationMs  int
	Summary     string
	Fingerprint fingerprint.Hash
}

// DryRunReport lists every step's result in order.
type DryRunReport struct {
	Dir   string
	Steps []StepReport
}

// Passed reports whether every step passed.
func (r *DryRunReport) Passed() bool {
	for _, s := range r.Steps {
		if !s.Passed {
			return false
		}
	}
	return true
}

// DryRun runs each step once and fingerprints failures. It never invokes the
// agent, commits or pushes, and it keeps going past failing steps.
func (c *Controller) DryRun(ctx context.Context) (*DryRunReport, error) {
	c.parent = ctx
	rep := &DryRunReport{Dir: c.opts.Dir}
	c.rounds = 1
	for _, step := range c.opts.Steps {
		res, err := c.runStep(ctx, 1, step)
		if err != nil {
			return rep, err
		}
		sr := StepReport{
			Name:       step.Name,
			Command:    step.CommandLine(),
			Passed:     res.Passed,
			ExitCode:   res.ExitCode,
			TimedOut:   res.TimedOut,
			DurationMs: res.DurationMs,
			Summary:    res.Summary,
		}
		if !res.Passed {
			sr.Fingerprint = fingerprint.Of(res.ErrorText())
		}
		rep.Steps = append(rep.Steps, sr)
	}
	return rep, nil
}
