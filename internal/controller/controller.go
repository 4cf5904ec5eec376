// Package controller drives a repository to convergence: local checks pass,
// fixes are committed and pushed, and remote CI reports success for the
// pushed commit.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/converge/internal/agent"
	"github.com/lucasnoah/converge/internal/checks"
	"github.com/lucasnoah/converge/internal/db"
	"github.com/lucasnoah/converge/internal/fingerprint"
	"github.com/lucasnoah/converge/internal/github"
	"github.com/lucasnoah/converge/internal/poll"
	"github.com/lucasnoah/converge/internal/report"
	"github.com/lucasnoah/converge/internal/style"
	"github.com/lucasnoah/converge/internal/telemetry"
	"github.com/lucasnoah/converge/internal/vcs"
	"go.opentelemetry.io/otel/attribute"
)

// CheckRunner runs one local verification step.
type CheckRunner interface {
	Run(ctx context.Context, dir string, step checks.Step) (*checks.Result, error)
}

// Git is the version-control host.
type Git interface {
	StatusPorcelain(ctx context.Context, dir string) (string, error)
	StageAll(ctx context.Context, dir string) error
	DiffStaged(ctx context.Context, dir string) (string, error)
	Commit(ctx context.Context, dir, message string, noVerify bool) error
	Push(ctx context.Context, dir string, noVerify bool) error
	CurrentCommit(ctx context.Context, dir string) (string, error)
	CurrentBranch(ctx context.Context, dir string) (string, error)
	RemoteURL(ctx context.Context, dir string) (string, error)
	GitDir(ctx context.Context, dir string) (string, error)
	Snapshot(ctx context.Context, dir, label string) (string, error)
}

// CIProvider reads remote CI state.
type CIProvider interface {
	AuthStatus(ctx context.Context) error
	ListRecentRuns(ctx context.Context, repo, branch string) ([]github.Run, error)
	GetRun(ctx context.Context, repo string, runID int64) (*github.Run, error)
	GetRunJobs(ctx context.Context, repo string, runID int64) ([]github.Job, error)
	GetJobLog(ctx context.Context, repo string, jobID int64) (string, error)
	GetRunLog(ctx context.Context, repo string, runID int64, failedOnly bool) (string, error)
}

// Agent is the remediation agent.
type Agent interface {
	Available() error
	InteractiveEnabled() bool
	Fix(ctx context.Context, req agent.Request) agent.Result
	Analyze(ctx context.Context, req agent.Request) (*agent.Analysis, error)
	Interactive(ctx context.Context, req agent.Request) error
}

// History persists fix attempts, check runs and controller events.
type History interface {
	RecordFixAttempt(a db.FixAttempt) error
	FixAttempts(fingerprint string, limit int) ([]db.FixAttempt, error)
	RecordCheckRun(c db.CheckRun) error
	LogEvent(e db.Event) error
}

// Options configures one controller.
type Options struct {
	Dir       string
	Label     string // prefix for progress lines; empty for single-repo runs
	Steps     []checks.Step
	Budget    Budget
	Scheduler poll.Scheduler

	Remote    bool
	Repo      string // owner/name; derived from origin when empty
	NoVerify  bool
	Preflight bool
	Analyze   bool

	PostPushWindow time.Duration
	FallbackWindow time.Duration
	DiscoveryDelay time.Duration
	LockWait       time.Duration
}

// Deps are the collaborators a controller drives.
type Deps struct {
	Checks  CheckRunner
	Git     Git
	CI      CIProvider
	Agent   Agent
	History History // nil disables persistence
}

// Outcome summarizes a finished invocation, converged or not.
type Outcome struct {
	InvocationID    string
	Dir             string
	Repo            string
	Branch          string
	Converged       bool
	CommitID        string
	RunID           int64
	RunURL          string
	Rounds          int
	Commits         int
	Pushes          int
	RemainingLocal  int
	RemainingRemote int
}

// historyLimit bounds the prior attempts quoted to the agent.
const historyLimit = 5

// ciLogLines caps the filtered CI log handed to the agent.
const ciLogLines = 200

// Controller runs the local and remote loops for one repository. It holds all
// per-invocation state; nothing is shared between controllers.
type Controller struct {
	opts Options
	deps Deps

	parent   context.Context
	progress io.Writer
	style    *style.Palette
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	invocationID string
	gitDir       string
	repo         string
	branch       string

	rounds          int
	commits         int
	pushes          int
	lastPush        time.Time
	remainingLocal  int
	interactiveUsed bool
	analyses        map[fingerprint.Hash]*agent.Analysis
	state           *RunState
	knownRuns       map[int64]bool
	runErrors       map[int64]*fingerprint.Set
	last            *report.State
}

// New creates a controller for opts.Dir.
func New(opts Options, deps Deps) *Controller {
	if deps.History == nil {
		deps.History = nopHistory{}
	}
	return &Controller{
		opts:           opts,
		deps:           deps,
		style:          style.New(true),
		now:            time.Now,
		sleep:          sleepCtx,
		invocationID:   uuid.New().String(),
		remainingLocal: opts.Budget.MaxFixAttempts,
		analyses:       make(map[fingerprint.Hash]*agent.Analysis),
		knownRuns:      make(map[int64]bool),
		runErrors:      make(map[int64]*fingerprint.Set),
	}
}

// SetProgress sets a writer for live progress output (e.g. os.Stderr).
func (c *Controller) SetProgress(w io.Writer) {
	c.progress = w
	c.style = style.For(w)
}

// SetClock overrides the time source and the sleep used between polls (for
// testing).
func (c *Controller) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	c.now = now
	c.sleep = sleep
}

// InvocationID identifies this run in events, history and the report.
func (c *Controller) InvocationID() string { return c.invocationID }

// Report returns the terminal report of the last Run, or nil before Run
// returns.
func (c *Controller) Report() *report.State { return c.last }

// State returns the RunState of the commit currently tracked remotely.
func (c *Controller) State() *RunState { return c.state }

func (c *Controller) logf(format string, args ...any) {
	if c.progress == nil {
		return
	}
	if c.opts.Label != "" {
		format = "[" + c.opts.Label + "] " + format
	}
	fmt.Fprintln(c.progress, c.style.Step(format, args...))
}

func (c *Controller) warnf(format string, args ...any) {
	if c.progress == nil {
		return
	}
	if c.opts.Label != "" {
		format = "[" + c.opts.Label + "] " + format
	}
	fmt.Fprintln(c.progress, "  "+c.style.Warn(format, args...))
}

func (c *Controller) event(name string, phase Phase, detail string) {
	if err := c.deps.History.LogEvent(db.Event{
		InvocationID: c.invocationID,
		Repo:         c.repoName(),
		Event:        name,
		Phase:        string(phase),
		Detail:       detail,
	}); err != nil {
		c.warnf("could not log event %s: %v", name, err)
	}
}

func (c *Controller) repoName() string {
	if c.repo != "" {
		return c.repo
	}
	return filepath.Base(c.opts.Dir)
}

// Run drives the repository to convergence. The returned Outcome is always
// non-nil; a nil error means remote CI succeeded for the final commit (or
// local checks passed when remote reconciliation is disabled). Any other
// outcome is a *TerminalError.
func (c *Controller) Run(ctx context.Context) (*Outcome, error) {
	ctx, span := telemetry.Start(ctx, "converge.run",
		attribute.String(telemetry.KeyInvocation, c.invocationID),
		attribute.String(telemetry.KeyRepo, c.opts.Dir))

	err := c.run(ctx)
	out := c.outcome(err)
	c.last = c.reportState(out, err)
	if c.gitDir != "" {
		if serr := report.Save(c.gitDir, c.last); serr != nil {
			c.warnf("%v", serr)
		}
	}
	if err != nil {
		c.event("stopped", phaseOf(err), err.Error())
	} else {
		c.event("converged", PhaseRemote, out.CommitID)
	}
	span.SetAttributes(attribute.Bool(telemetry.KeyOutcome, out.Converged))
	telemetry.End(span, err)
	return out, err
}

func (c *Controller) run(ctx context.Context) error {
	c.parent = ctx
	if err := c.resolve(ctx); err != nil {
		return err
	}

	lock, err := vcs.LockTree(ctx, c.gitDir, c.opts.LockWait)
	if err != nil {
		return c.fatal(PhasePreflight, "working tree is in use", err)
	}
	defer lock.Unlock()

	c.event("started", PhasePreflight, c.opts.Dir)
	if c.opts.Preflight {
		if err := c.preflight(ctx); err != nil {
			return err
		}
	}

	if _, err := c.verifyLocal(ctx); err != nil {
		return err
	}
	if !c.opts.Remote {
		c.logf("local checks pass; remote reconciliation disabled")
		return nil
	}
	if err := c.push(ctx); err != nil {
		return err
	}
	return c.reconcile(ctx)
}

func (c *Controller) outcome(err error) *Outcome {
	out := &Outcome{
		InvocationID:   c.invocationID,
		Dir:            c.opts.Dir,
		Repo:           c.repo,
		Branch:         c.branch,
		Converged:      err == nil,
		Rounds:         c.rounds,
		Commits:        c.commits,
		Pushes:         c.pushes,
		RemainingLocal: c.remainingLocal,
	}
	out.RemainingRemote = c.opts.Budget.MaxRemoteRetries
	if st := c.state; st != nil {
		out.CommitID = st.CommitID
		out.RunID = st.LastRunID
		out.RunURL = st.RunURL
		out.RemainingRemote = c.opts.Budget.MaxRemoteRetries - st.Retries
	}
	var te *TerminalError
	if errors.As(err, &te) && te.CommitID != "" {
		out.CommitID = te.CommitID
	}
	return out
}

func (c *Controller) reportState(out *Outcome, err error) *report.State {
	s := &report.State{
		InvocationID:    out.InvocationID,
		Repo:            out.Repo,
		Dir:             out.Dir,
		Outcome:         report.OutcomeConverged,
		Phase:           string(PhaseRemote),
		CommitID:        out.CommitID,
		RunID:           out.RunID,
		RunURL:          out.RunURL,
		RemainingLocal:  out.RemainingLocal,
		RemainingRemote: out.RemainingRemote,
		Pushes:          out.Pushes,
		Commits:         out.Commits,
		UpdatedAt:       c.now().UTC(),
	}
	if !c.opts.Remote {
		s.Phase = string(PhaseLocal)
	}
	if err != nil {
		s.Outcome = report.OutcomeStopped
		s.Phase = string(phaseOf(err))
		s.Reason = err.Error()
		var te *TerminalError
		if errors.As(err, &te) {
			s.Kind = string(te.Kind)
			s.Reason = te.Reason
		}
	}
	return s
}

func phaseOf(err error) Phase {
	var te *TerminalError
	if errors.As(err, &te) {
		return te.Phase
	}
	return PhaseLocal
}

// terminal builds a TerminalError carrying the current state.
func (c *Controller) terminal(kind Kind, phase Phase, reason string, err error) *TerminalError {
	te := &TerminalError{
		Kind:            kind,
		Phase:           phase,
		Repo:            c.opts.Dir,
		RemainingLocal:  c.remainingLocal,
		RemainingRemote: c.opts.Budget.MaxRemoteRetries,
		Reason:          reason,
		Err:             err,
	}
	if st := c.state; st != nil {
		te.CommitID = st.CommitID
		te.RunID = st.LastRunID
		te.RunURL = st.RunURL
		te.RemainingRemote = c.opts.Budget.MaxRemoteRetries - st.Retries
	}
	return te
}

func (c *Controller) fatal(phase Phase, reason string, err error) *TerminalError {
	return c.terminal(KindFatalConfig, phase, reason, err)
}

// stopped maps a context failure onto the matching terminal state. ctx may
// carry a deadline beyond the operator's context.
func (c *Controller) stopped(ctx context.Context, phase Phase) *TerminalError {
	parent := c.parent
	if parent == nil {
		parent = ctx
	}
	if parent.Err() != nil {
		return c.terminal(KindInterrupted, phase, "interrupted", parent.Err())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return c.terminal(KindTimeout, PhaseRemote, fmt.Sprintf("remote phase exceeded %s", c.opts.Budget.RemoteTimeout), ctx.Err())
	}
	return c.terminal(KindInterrupted, phase, "interrupted", ctx.Err())
}

// remoteErr classifies a CI provider failure. Cancellation and missing
// credentials are terminal; nil means the caller may retry.
func (c *Controller) remoteErr(ctx context.Context, err error) *TerminalError {
	if ctx.Err() != nil {
		return c.stopped(ctx, PhaseRemote)
	}
	if errors.Is(err, github.ErrNotAuthenticated) {
		return c.fatal(PhaseRemote, "CI provider is not authenticated", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type nopHistory struct{}

func (nopHistory) RecordFixAttempt(db.FixAttempt) error { return nil }
func (nopHistory) FixAttempts(string, int) ([]db.FixAttempt, error) { return nil, nil }
func (nopHistory) RecordCheckRun(db.CheckRun) error { return nil }
func (nopHistory) LogEvent(db.Event) error { return nil }
