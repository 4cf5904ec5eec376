// Package agent runs the external remediation agent: a batch "fix this"
// invocation, a read-only failure analysis, and an interactive pty session
// used as the last resort.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/lucasnoah/converge/internal/prompt"
)

// DefaultTimeout bounds one agent invocation.
const DefaultTimeout = 15 * time.Minute

// PromptPlaceholder in an argument list is replaced by the rendered prompt.
// Without it the prompt is appended as the last argument.
const PromptPlaceholder = "{prompt}"

// Phase names where a request comes from and selects its prompt template.
type Phase string

const (
	PhaseLocal Phase = "local"
	PhaseCIJob Phase = "ci-job"
	PhaseCIRun Phase = "ci-run"
)

// Request is the error context handed to the agent.
type Request struct {
	Phase     Phase
	CheckName string
	JobName   string
	Command   string
	RunURL    string
	ErrorText string
	Attempt   int
	Analysis  *Analysis
	History   []string
}

// Target is the check or job the request is about.
func (r Request) Target() string {
	if r.JobName != "" {
		return r.JobName
	}
	if r.CheckName != "" {
		return r.CheckName
	}
	return "ci run"
}

// Result is the outcome of one Fix call. Any non-zero exit, timeout or
// interruption means "not fixed"; the cause is never inspected.
type Result struct {
	ExitCode    int
	Elapsed     time.Duration
	TimedOut    bool
	Interrupted bool
	Output      string
}

// Fixed reports whether the agent claims success.
func (r Result) Fixed() bool {
	return r.ExitCode == 0 && !r.TimedOut && !r.Interrupted
}

// CommandFactory builds the agent process. Tests inject a helper process.
type CommandFactory func(ctx context.Context, dir string, name string, args ...string) *exec.Cmd

func defaultCommandFactory(ctx context.Context, dir string, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd
}

type options struct {
	command            string
	args               []string
	timeout            time.Duration
	interactiveCommand string
	interactiveArgs    []string
	factory            CommandFactory
	live               io.Writer
	pty                PTY
	isTerminal         func() bool
}

// Option configures an Adapter.
type Option func(*options)

// WithCommand sets the batch agent command and its arguments.
func WithCommand(name string, args ...string) Option {
	return func(o *options) { o.command, o.args = name, args }
}

// WithInteractive sets the command used for the interactive fallback. An
// empty name disables the fallback.
func WithInteractive(name string, args ...string) Option {
	return func(o *options) { o.interactiveCommand, o.interactiveArgs = name, args }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithCommandFactory injects the process builder (used in tests).
func WithCommandFactory(f CommandFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithLiveOutput tees agent stdout to w while it runs.
func WithLiveOutput(w io.Writer) Option {
	return func(o *options) { o.live = w }
}

// WithPTY overrides the pty used by Interactive.
func WithPTY(p PTY) Option {
	return func(o *options) { o.pty = p }
}

// WithTerminalCheck overrides how Interactive detects an attached terminal.
func WithTerminalCheck(f func() bool) Option {
	return func(o *options) { o.isTerminal = f }
}

// Adapter invokes the remediation agent inside one working tree.
type Adapter struct {
	dir  string
	opts options
}

// New creates an adapter running in dir. The default command is
// `claude --print --dangerously-skip-permissions {prompt}`.
func New(dir string, opts ...Option) *Adapter {
	o := options{
		command: "claude",
		args:    []string{"--print", "--dangerously-skip-permissions"},
		timeout: DefaultTimeout,
		factory: defaultCommandFactory,
		live:    io.Discard,
		pty:     &CreackPTY{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.isTerminal == nil {
		o.isTerminal = stdinIsTerminal
	}
	return &Adapter{dir: dir, opts: o}
}

// Available checks that the agent binary can be found.
func (a *Adapter) Available() error {
	if _, err := exec.LookPath(a.opts.command); err != nil {
		return fmt.Errorf("remediation agent %q not found on PATH: %w", a.opts.command, err)
	}
	return nil
}

// InteractiveEnabled reports whether an interactive fallback is configured.
func (a *Adapter) InteractiveEnabled() bool {
	return a.opts.interactiveCommand != ""
}

// Fix asks the agent to change the working tree so the failure goes away.
// It never returns an error: a prompt, launch or process failure is reported
// as a non-zero Result.
func (a *Adapter) Fix(ctx context.Context, req Request) Result {
	text, err := a.renderFix(req)
	if err != nil {
		return Result{ExitCode: -1, Output: err.Error()}
	}
	return a.invoke(ctx, text, a.opts.live)
}

func (a *Adapter) renderFix(req Request) (string, error) {
	name := prompt.FixCheck
	switch req.Phase {
	case PhaseCIJob:
		name = prompt.FixCIJob
	case PhaseCIRun:
		name = prompt.FixCIRun
	}
	vars := prompt.Vars{
		"check_name": req.CheckName,
		"job_name":   req.JobName,
		"command":    req.Command,
		"repo_dir":   a.dir,
		"run_url":    req.RunURL,
		"attempt":    strconv.Itoa(req.Attempt),
		"error_text": req.ErrorText,
		"history":    strings.Join(req.History, "\n"),
	}
	if req.Analysis != nil {
		vars["analysis"] = req.Analysis.String()
	}
	return prompt.RenderNamed(name, a.dir, vars)
}

// invoke runs the batch command once with the rendered prompt.
func (a *Adapter) invoke(ctx context.Context, text string, live io.Writer) Result {
	runCtx, cancel := context.WithTimeout(ctx, a.opts.timeout)
	defer cancel()

	cmd := a.opts.factory(runCtx, a.dir, a.opts.command, withPrompt(a.opts.args, text)...)
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = io.MultiWriter(&stdout, live)
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Elapsed:     time.Since(start),
		TimedOut:    errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil,
		Interrupted: ctx.Err() != nil,
		Output:      stdout.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Output = fmt.Sprintf("failed to run agent: %v", err)
		}
	}
	if (res.TimedOut || res.Interrupted) && res.ExitCode == 0 {
		res.ExitCode = -1
	}
	if res.ExitCode != 0 && stderr.Len() > 0 {
		res.Output = strings.TrimSpace(res.Output + "\n" + stderr.String())
	}
	return res
}

func withPrompt(args []string, text string) []string {
	out := make([]string, 0, len(args)+1)
	replaced := false
	for _, a := range args {
		if a == PromptPlaceholder {
			out = append(out, text)
			replaced = true
			continue
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, text)
	}
	return out
}
