package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/converge/internal/agent"
	"github.com/lucasnoah/converge/internal/checks"
	"github.com/lucasnoah/converge/internal/db"
	"github.com/lucasnoah/converge/internal/fingerprint"
	"github.com/lucasnoah/converge/internal/telemetry"
	"github.com/lucasnoah/converge/internal/vcs"
	"go.opentelemetry.io/otel/attribute"
)

// verifyLocal runs the step list until one full round passes without a fix.
// A fix anywhere restarts the list from the first step. It returns the number
// of fixes applied.
func (c *Controller) verifyLocal(ctx context.Context) (int, error) {
	fixes := 0
	seen := fingerprint.NewSet()
	maxRounds := c.opts.Budget.MaxRounds
	for round := 1; ; round++ {
		if maxRounds > 0 && round > maxRounds {
			return fixes, c.terminal(KindBudgetExhausted, PhaseLocal,
				fmt.Sprintf("checks did not settle after %d rounds", maxRounds), nil)
		}
		c.rounds++
		seen.Reset()

		fixed, err := c.runRound(ctx, round, seen)
		if err != nil {
			return fixes, err
		}
		if !fixed {
			c.logf("round %d clean: all %d checks passed", round, len(c.opts.Steps))
			c.event("round_clean", PhaseLocal, fmt.Sprintf("round %d", round))
			return fixes, nil
		}
		fixes++
	}
}

// runRound executes the steps in order. It stops at the first failure, which
// is either fixed (true) or terminal (error).
func (c *Controller) runRound(ctx context.Context, round int, seen *fingerprint.Set) (fixed bool, err error) {
	ctx, span := telemetry.Start(ctx, "local.round", attribute.Int(telemetry.KeyRound, round))
	defer func() { telemetry.End(span, err) }()

	c.logf("round %d: running %d checks", round, len(c.opts.Steps))
	for _, step := range c.opts.Steps {
		res, err := c.runStep(ctx, round, step)
		if err != nil {
			return false, err
		}
		if res.Passed {
			continue
		}
		if err := c.fixStep(ctx, round, step, res, seen); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// runStep runs one check and records it. A failing check is a result; only a
// broken runner or cancellation is an error.
func (c *Controller) runStep(ctx context.Context, round int, step checks.Step) (*checks.Result, error) {
	res, err := c.deps.Checks.Run(ctx, c.opts.Dir, step)
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.stopped(ctx, PhaseLocal)
		}
		return nil, c.fatal(PhaseLocal, fmt.Sprintf("could not run check %s", step.Name), err)
	}

	var fp fingerprint.Hash
	if res.Passed {
		c.logf("%s passed (%dms)", step.Name, res.DurationMs)
	} else {
		fp = fingerprint.Of(res.ErrorText())
		c.logf("%s failed: %s [%s]", step.Name, res.Summary, fp.Short())
	}
	if err := c.deps.History.RecordCheckRun(db.CheckRun{
		InvocationID: c.invocationID,
		Repo:         c.repoName(),
		Round:        c.rounds,
		CheckName:    step.Name,
		Passed:       res.Passed,
		ExitCode:     res.ExitCode,
		DurationMs:   res.DurationMs,
		Summary:      res.Summary,
		Fingerprint:  string(fp),
	}); err != nil {
		c.warnf("could not record check run: %v", err)
	}
	return res, nil
}

// fixStep remediates a failing step. It returns nil only once the step
// passes again; every other ending is terminal.
func (c *Controller) fixStep(ctx context.Context, round int, step checks.Step, res *checks.Result, seen *fingerprint.Set) error {
	fp := fingerprint.Of(res.ErrorText())
	if !seen.Add(fp) {
		return c.loopBreaker(PhaseLocal, step.Name, fp)
	}
	c.event("check_failed", PhaseLocal, step.Name+" "+fp.Short())

	maxAttempts := c.opts.Budget.MaxFixAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.remainingLocal = maxAttempts - attempt
		req := agent.Request{
			Phase:     agent.PhaseLocal,
			CheckName: step.Name,
			Command:   step.CommandLine(),
			ErrorText: res.ErrorText(),
			Attempt:   attempt,
		}
		if err := c.enrich(ctx, PhaseLocal, &req, fp); err != nil {
			return err
		}
		out, err := c.attempt(ctx, PhaseLocal, req, fp)
		if err != nil {
			return err
		}
		rec := attemptRecord(req, fp, out)
		if !out.Fixed() {
			c.logf("agent did not fix %s (%s)", step.Name, describe(out))
			c.record(rec)
			continue
		}

		rerun, err := c.runStep(ctx, round, step)
		if err != nil {
			return err
		}
		if rerun.Passed {
			commit, err := c.commitIfChanged(ctx, PhaseLocal, step.Name, res.ErrorText())
			if err != nil {
				return err
			}
			// a pass with a clean tree is flakiness, not a fix
			rec.Succeeded = commit != ""
			rec.CommitID = commit
			c.record(rec)
			c.remainingLocal = maxAttempts
			return nil
		}
		c.record(rec)

		next := fingerprint.Of(rerun.ErrorText())
		if !seen.Add(next) {
			return c.loopBreaker(PhaseLocal, step.Name, next)
		}
		c.logf("%s now fails differently [%s]", step.Name, next.Short())
		fp, res = next, rerun
	}

	return c.fallback(ctx, round, step, res, fp)
}

// fallback runs the single interactive session an invocation may use, then
// re-runs the step.
func (c *Controller) fallback(ctx context.Context, round int, step checks.Step, res *checks.Result, fp fingerprint.Hash) error {
	c.remainingLocal = 0
	exhausted := c.terminal(KindBudgetExhausted, PhaseLocal,
		fmt.Sprintf("%s still failing after %d fix attempts", step.Name, c.opts.Budget.MaxFixAttempts), nil)
	if c.interactiveUsed || !c.deps.Agent.InteractiveEnabled() {
		return exhausted
	}
	c.interactiveUsed = true

	req := agent.Request{
		Phase:     agent.PhaseLocal,
		CheckName: step.Name,
		Command:   step.CommandLine(),
		ErrorText: res.ErrorText(),
		Attempt:   c.opts.Budget.MaxFixAttempts,
	}
	c.logf("handing %s to an interactive session", step.Name)
	c.event("interactive", PhaseLocal, step.Name)
	if err := c.deps.Agent.Interactive(ctx, req); err != nil {
		if ctx.Err() != nil {
			return c.stopped(ctx, PhaseLocal)
		}
		if !errors.Is(err, agent.ErrNoTerminal) {
			c.warnf("interactive session failed: %v", err)
		}
		return exhausted
	}

	rerun, err := c.runStep(ctx, round, step)
	if err != nil {
		return err
	}
	rec := attemptRecord(req, fp, agent.Result{})
	rec.Strategy = "interactive session"
	if !rerun.Passed {
		c.record(rec)
		return exhausted
	}
	commit, err := c.commitIfChanged(ctx, PhaseLocal, step.Name, res.ErrorText())
	if err != nil {
		return err
	}
	rec.Succeeded = commit != ""
	rec.CommitID = commit
	c.record(rec)
	return nil
}

// enrich attaches the failure analysis (computed once per fingerprint) and
// the prior history of the fingerprint to req.
func (c *Controller) enrich(ctx context.Context, phase Phase, req *agent.Request, fp fingerprint.Hash) error {
	if c.opts.Analyze {
		an, done := c.analyses[fp]
		if !done {
			var err error
			an, err = c.deps.Agent.Analyze(ctx, *req)
			if ctx.Err() != nil {
				return c.stopped(ctx, phase)
			}
			if err != nil {
				c.warnf("analysis failed: %v", err)
			}
			c.analyses[fp] = an
			if an != nil {
				c.logf("analysis: %s (%s confidence)", an.Classification, an.Confidence)
				if an.Environmental() {
					c.warnf("%s looks environmental: %s", req.Target(), an.RootCause)
					c.event("environmental_failure", phase, req.Target()+": "+an.RootCause)
				}
			}
		}
		req.Analysis = an
	}

	prior, err := c.deps.History.FixAttempts(string(fp), historyLimit)
	if err != nil {
		c.warnf("could not read error history: %v", err)
		return nil
	}
	for _, p := range prior {
		line := fmt.Sprintf("%s: attempt %d on %s ", p.Timestamp, p.Attempt, p.Target)
		if p.Succeeded {
			line += "succeeded"
		} else {
			line += "failed"
		}
		if p.Strategy != "" {
			line += " (strategy: " + p.Strategy + ")"
		}
		req.History = append(req.History, line)
	}
	return nil
}

// attempt snapshots the tree and runs one agent fix. Interruption is
// terminal and the attempt is not recorded.
func (c *Controller) attempt(ctx context.Context, phase Phase, req agent.Request, fp fingerprint.Hash) (agent.Result, error) {
	ctx, span := telemetry.Start(ctx, "fix",
		attribute.String(telemetry.KeyPhase, string(req.Phase)),
		attribute.String(telemetry.KeyCheck, req.Target()),
		attribute.String(telemetry.KeyFingerprint, string(fp)),
		attribute.Int(telemetry.KeyAttempt, req.Attempt))

	label := fmt.Sprintf("%s-%s-%d", req.Target(), fp.Short(), req.Attempt)
	if ref, err := c.deps.Git.Snapshot(ctx, c.opts.Dir, label); err != nil {
		c.warnf("snapshot failed: %v", err)
	} else {
		c.logf("snapshot %s", ref)
	}

	c.logf("agent fixing %s (attempt %d)", req.Target(), req.Attempt)
	out := c.deps.Agent.Fix(ctx, req)
	if out.Interrupted || ctx.Err() != nil {
		telemetry.End(span, ctx.Err())
		return out, c.stopped(ctx, phase)
	}
	var ferr error
	if !out.Fixed() {
		ferr = errors.New(describe(out))
	}
	telemetry.End(span, ferr)
	c.event("fix_attempt", phase, fmt.Sprintf("%s attempt %d: %s", req.Target(), req.Attempt, describe(out)))
	return out, nil
}

// commitIfChanged commits the working tree when the fix changed anything. It
// returns the new commit id, or "" when there was nothing to commit.
func (c *Controller) commitIfChanged(ctx context.Context, phase Phase, target, errText string) (string, error) {
	status, err := c.deps.Git.StatusPorcelain(ctx, c.opts.Dir)
	if err != nil {
		return "", c.fatal(phase, "git status failed", err)
	}
	if strings.TrimSpace(status) == "" {
		c.logf("no changes to commit for %s", target)
		return "", nil
	}
	if err := c.deps.Git.StageAll(ctx, c.opts.Dir); err != nil {
		return "", c.fatal(phase, "git add failed", err)
	}
	diff, err := c.deps.Git.DiffStaged(ctx, c.opts.Dir)
	if err != nil {
		return "", c.fatal(phase, "git diff failed", err)
	}
	if strings.TrimSpace(diff) == "" {
		c.logf("no changes to commit for %s", target)
		return "", nil
	}

	msg := vcs.CommitMessage(target, errText)
	if err := c.deps.Git.Commit(ctx, c.opts.Dir, msg, c.opts.NoVerify); err != nil {
		return "", c.fatal(phase, "git commit failed", err)
	}
	c.commits++
	id, err := c.deps.Git.CurrentCommit(ctx, c.opts.Dir)
	if err != nil {
		return "", c.fatal(phase, "git rev-parse failed", err)
	}
	subject, _, _ := strings.Cut(msg, "\n")
	c.logf("committed %s %s", shortSHA(id), subject)
	c.event("committed", phase, id+" "+subject)
	return id, nil
}

func (c *Controller) loopBreaker(phase Phase, target string, fp fingerprint.Hash) *TerminalError {
	c.event("loop_breaker", phase, target+" "+fp.Short())
	return c.terminal(KindLoopBreaker, phase,
		fmt.Sprintf("%s failed again with an error already attempted [%s]", target, fp.Short()), nil)
}

func (c *Controller) record(a db.FixAttempt) {
	a.InvocationID = c.invocationID
	a.Repo = c.repoName()
	if err := c.deps.History.RecordFixAttempt(a); err != nil {
		c.warnf("could not record fix attempt: %v", err)
	}
}

func attemptRecord(req agent.Request, fp fingerprint.Hash, out agent.Result) db.FixAttempt {
	a := db.FixAttempt{
		Fingerprint: string(fp),
		Phase:       string(req.Phase),
		Target:      req.Target(),
		Attempt:     req.Attempt,
		ElapsedMs:   out.Elapsed.Milliseconds(),
	}
	if req.Analysis != nil {
		a.Strategy = req.Analysis.Strategy
		a.RootCause = req.Analysis.RootCause
	}
	return a
}

func describe(out agent.Result) string {
	switch {
	case out.TimedOut:
		return fmt.Sprintf("timed out after %s", out.Elapsed.Round(time.Second))
	case out.ExitCode != 0:
		return fmt.Sprintf("exit %d", out.ExitCode)
	default:
		return "ok"
	}
}

func shortSHA(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
