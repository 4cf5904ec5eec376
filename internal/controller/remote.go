package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/lucasnoah/converge/internal/agent"
	"github.com/lucasnoah/converge/internal/checks"
	"github.com/lucasnoah/converge/internal/fingerprint"
	"github.com/lucasnoah/converge/internal/github"
	"github.com/lucasnoah/converge/internal/poll"
	"github.com/lucasnoah/converge/internal/priority"
	"github.com/lucasnoah/converge/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// push publishes local commits and starts tracking the new HEAD with a fresh
// RunState, which resets the remote retry counter.
func (c *Controller) push(ctx context.Context) error {
	if limit := c.opts.Budget.MaxPushes; limit > 0 && c.pushes >= limit {
		return c.terminal(KindBudgetExhausted, PhaseRemote, fmt.Sprintf("push limit of %d reached", limit), nil)
	}
	if err := c.deps.Git.Push(ctx, c.opts.Dir, c.opts.NoVerify); err != nil {
		if ctx.Err() != nil {
			return c.stopped(ctx, PhaseRemote)
		}
		return c.fatal(PhaseRemote, "git push failed", err)
	}
	c.pushes++
	c.lastPush = c.now()

	commit, err := c.deps.Git.CurrentCommit(ctx, c.opts.Dir)
	if err != nil {
		return c.fatal(PhaseRemote, "git rev-parse failed", err)
	}
	if c.state != nil && c.state.LastRunID != 0 {
		c.knownRuns[c.state.LastRunID] = true
	}
	c.state = NewRunState(commit)
	c.logf("pushed %s to %s", shortSHA(commit), c.branch)
	c.event("pushed", PhaseRemote, commit)
	return nil
}

// reconcile polls CI for the tracked commit until it succeeds or a limit is
// reached.
func (c *Controller) reconcile(ctx context.Context) error {
	if d := c.opts.Budget.RemoteTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	for {
		st := c.state
		if st.LastRunID == 0 {
			run, err := c.discover(ctx, st)
			if err != nil {
				return err
			}
			st.Attach(run)
		}
		done, err := c.poll(ctx, st)
		if err != nil || done {
			return err
		}
	}
}

// discover finds the CI run for st's commit, retrying up to the remote retry
// budget. The fallback rule is only tried on the first attempt.
func (c *Controller) discover(ctx context.Context, st *RunState) (*github.Run, error) {
	maxRetries := c.opts.Budget.MaxRemoteRetries
	for attempt := 0; ; attempt++ {
		runs, err := c.deps.CI.ListRecentRuns(ctx, c.repo, c.branch)
		if err != nil {
			if terr := c.remoteErr(ctx, err); terr != nil {
				return nil, terr
			}
			c.warnf("could not list runs: %v", err)
		} else {
			run, kind := MatchRun(runs, MatchCriteria{
				CommitID:       st.CommitID,
				PushedAt:       c.lastPush,
				PostPushWindow: c.opts.PostPushWindow,
				FallbackWindow: c.opts.FallbackWindow,
				AllowFallback:  attempt == 0,
				Now:            c.now(),
				Exclude:        c.knownRuns,
			})
			if run != nil {
				c.logf("tracking run %d (%s) matched by %s", run.ID, run.Name, kind)
				c.event("run_matched", PhaseRemote, fmt.Sprintf("%d %s", run.ID, kind))
				return run, nil
			}
		}
		if attempt >= maxRetries {
			return nil, c.terminal(KindBudgetExhausted, PhaseRemote,
				fmt.Sprintf("no CI run found for %s after %d attempts", shortSHA(st.CommitID), attempt+1), nil)
		}
		c.logf("no CI run for %s yet; retrying in %s", shortSHA(st.CommitID), c.opts.DiscoveryDelay)
		if err := c.wait(ctx, c.opts.DiscoveryDelay); err != nil {
			return nil, err
		}
	}
}

// poll refreshes the tracked run once and acts on its state. done is true
// once the run succeeded with nothing left to push.
func (c *Controller) poll(ctx context.Context, st *RunState) (done bool, err error) {
	if limit := c.opts.Budget.MaxPolls; limit > 0 && st.PollAttempt >= limit {
		return false, c.givenUp(KindBudgetExhausted, fmt.Sprintf("run %d still running after %d polls", st.LastRunID, limit))
	}
	st.PollAttempt++

	ctx, span := telemetry.Start(ctx, "remote.poll",
		attribute.Int64(telemetry.KeyRunID, st.LastRunID),
		attribute.Int(telemetry.KeyAttempt, st.PollAttempt))
	defer func() { telemetry.End(span, err) }()

	run, err := c.deps.CI.GetRun(ctx, c.repo, st.LastRunID)
	if err != nil {
		if terr := c.remoteErr(ctx, err); terr != nil {
			return false, terr
		}
		c.warnf("could not poll run %d: %v", st.LastRunID, err)
		return false, c.wait(ctx, c.opts.Scheduler.Default)
	}
	st.Observe(run)

	switch {
	case !run.Completed():
		return false, c.inProgress(ctx, st)
	case run.Succeeded():
		if st.HasPendingCommits {
			c.logf("run %d passed but fixes are pending; pushing them", run.ID)
			return false, c.push(ctx)
		}
		c.logf("run %d succeeded for %s", run.ID, shortSHA(st.CommitID))
		c.event("run_succeeded", PhaseRemote, fmt.Sprintf("%d", run.ID))
		return true, nil
	default:
		return false, c.failed(ctx, st, run)
	}
}

// inProgress remediates jobs that already failed while the run continues,
// then waits for the next poll.
func (c *Controller) inProgress(ctx context.Context, st *RunState) error {
	if st.Status == poll.StatusQueued {
		c.logf("run %d is queued", st.LastRunID)
		return c.wait(ctx, c.opts.Scheduler.NextDelay(st.Status, st.PollAttempt, false))
	}

	jobs, err := c.deps.CI.GetRunJobs(ctx, c.repo, st.LastRunID)
	if err != nil {
		if terr := c.remoteErr(ctx, err); terr != nil {
			return terr
		}
		c.warnf("could not list jobs of run %d: %v", st.LastRunID, err)
	}
	active := false
	for _, j := range jobs {
		if j.Active() {
			active = true
			break
		}
	}

	failures := priority.Rank(st.NewFailures(jobs), func(j github.Job) string { return j.Name })
	for _, job := range failures {
		if err := c.fixJob(ctx, st, job); err != nil {
			return err
		}
	}
	return c.wait(ctx, c.opts.Scheduler.NextDelay(st.Status, st.PollAttempt, active))
}

// fixJob remediates one failed job of a run that is still going. The job is
// marked fixed whatever the outcome so it is never handled twice for the run.
func (c *Controller) fixJob(ctx context.Context, st *RunState, job github.Job) (err error) {
	ctx, span := telemetry.Start(ctx, "remote.fix_job",
		attribute.String(telemetry.KeyJob, job.Name),
		attribute.Int64(telemetry.KeyRunID, st.LastRunID))
	defer func() { telemetry.End(span, err) }()

	st.MarkFixed(job.Name)
	c.logf("job %s failed in run %d", job.Name, st.LastRunID)
	c.event("job_failed", PhaseRemote, job.Name)

	log, err := c.deps.CI.GetJobLog(ctx, c.repo, job.ID)
	if err != nil {
		if terr := c.remoteErr(ctx, err); terr != nil {
			return terr
		}
		c.warnf("could not fetch log of job %s: %v", job.Name, err)
		return nil
	}
	text := checks.FilterErrorLines(log, ciLogLines)
	fp := fingerprint.Of(text)

	req := agent.Request{
		Phase:     agent.PhaseCIJob,
		JobName:   job.Name,
		RunURL:    st.RunURL,
		ErrorText: text,
		Attempt:   1,
	}
	return c.remediate(ctx, st, req, fp)
}

// failed handles a run that completed without success.
func (c *Controller) failed(ctx context.Context, st *RunState, run *github.Run) error {
	c.logf("run %d failed (%s)", run.ID, run.Conclusion)
	c.event("run_failed", PhaseRemote, fmt.Sprintf("%d %s", run.ID, run.Conclusion))

	if st.HasPendingCommits {
		c.logf("pushing fixes made while run %d was in progress", run.ID)
		return c.push(ctx)
	}
	if st.Retries >= c.opts.Budget.MaxRemoteRetries {
		return c.givenUp(KindBudgetExhausted,
			fmt.Sprintf("run %d failed and all %d remote retries are used", run.ID, c.opts.Budget.MaxRemoteRetries))
	}
	st.Retries++

	log, err := c.deps.CI.GetRunLog(ctx, c.repo, run.ID, true)
	if err != nil {
		if terr := c.remoteErr(ctx, err); terr != nil {
			return terr
		}
		c.warnf("could not fetch failed log of run %d: %v", run.ID, err)
	}
	text := checks.FilterErrorLines(log, ciLogLines)
	fp := fingerprint.Of(text)

	seen := c.runErrors[run.ID]
	if seen == nil {
		seen = fingerprint.NewSet()
		c.runErrors[run.ID] = seen
	}
	if !seen.Add(fp) {
		c.event("loop_breaker", PhaseRemote, fmt.Sprintf("%d %s", run.ID, fp.Short()))
		return c.givenUp(KindLoopBreaker,
			fmt.Sprintf("run %d still fails with an error already attempted [%s]", run.ID, fp.Short()))
	}

	req := agent.Request{
		Phase:     agent.PhaseCIRun,
		RunURL:    run.URL,
		ErrorText: text,
		Attempt:   st.Retries,
	}
	commits := c.commits
	if err := c.remediate(ctx, st, req, fp); err != nil {
		return err
	}
	if c.commits > commits {
		return c.push(ctx)
	}
	c.logf("no commit produced for run %d", run.ID)
	return nil
}

// remediate runs one CI fix: analysis, agent, local verification and commit.
// A produced commit marks the state as having pending commits.
func (c *Controller) remediate(ctx context.Context, st *RunState, req agent.Request, fp fingerprint.Hash) error {
	if err := c.enrich(ctx, PhaseRemote, &req, fp); err != nil {
		return err
	}
	out, err := c.attempt(ctx, PhaseRemote, req, fp)
	if err != nil {
		return err
	}
	rec := attemptRecord(req, fp, out)
	rec.RunID = st.LastRunID
	if !out.Fixed() {
		c.logf("agent did not fix %s (%s)", req.Target(), describe(out))
		c.record(rec)
		return nil
	}

	commits := c.commits
	if _, err := c.verifyLocal(ctx); err != nil {
		c.record(rec)
		return err
	}
	commit, err := c.commitIfChanged(ctx, PhaseRemote, req.Target(), req.ErrorText)
	if err != nil {
		return err
	}
	rec.Succeeded = c.commits > commits
	rec.CommitID = commit
	c.record(rec)
	if rec.Succeeded {
		st.HasPendingCommits = true
	}
	return nil
}

func (c *Controller) givenUp(kind Kind, reason string) *TerminalError {
	c.event("given_up", PhaseRemote, reason)
	return c.terminal(kind, PhaseRemote, reason, nil)
}

// wait sleeps for d unless the context ends first.
func (c *Controller) wait(ctx context.Context, d time.Duration) error {
	if err := c.sleep(ctx, d); err != nil {
		return c.stopped(ctx, PhaseRemote)
	}
	return nil
}
