package checks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a check that does not set its own timeout.
const DefaultTimeout = 10 * time.Minute

// Step is one ordered local verification command (install, lint, test, ...).
type Step struct {
	Name    string
	Command string
	Args    []string
	Timeout time.Duration
	Parser  string
}

// CommandLine renders the step for log lines.
func (s Step) CommandLine() string {
	if len(s.Args) == 0 {
		return s.Command
	}
	return s.Command + " " + strings.Join(s.Args, " ")
}

// Result holds the structured output of a check run. A failing or timed out
// check is a Result, never an error, so it can always be fingerprinted.
type Result struct {
	Step       string `json:"step"`
	Passed     bool   `json:"passed"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	DurationMs int    `json:"duration_ms"`
	Summary    string `json:"summary"`
	Findings   string `json:"findings,omitempty"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
}

// ErrorText is the failure text handed to fingerprinting and remediation.
func (r *Result) ErrorText() string {
	if r.Findings != "" {
		return r.Findings
	}
	return combine(r.Stdout, r.Stderr)
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner with os/exec.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = 5 * time.Second

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec %s: %w", name, err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes check steps and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewRunner creates a Runner with the given command runner.
func NewRunner(cmd CommandRunner) *Runner {
	r := &Runner{
		cmd:     cmd,
		parsers: make(map[string]Parser),
	}
	r.parsers["typescript"] = &TypeScriptParser{}
	r.parsers["gotest"] = &GoParser{}
	r.parsers["generic"] = &GenericParser{}
	return r
}

// Run executes a single step in dir. Launch failures (binary not found) are
// reported as a failed Result with exit code -1 so the caller can still
// fingerprint and remediate them; only context cancellation is an error.
func (r *Runner) Run(ctx context.Context, dir string, step Step) (*Result, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := step.Command, step.Args
	if len(args) == 0 && strings.ContainsAny(name, " \t|&;<>") {
		name, args = "sh", []string{"-c", step.Command}
	}

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(runCtx, dir, name, args...)
	durationMs := int(time.Since(start).Milliseconds())

	if ctx.Err() != nil {
		return nil, fmt.Errorf("run step %q: %w", step.Name, ctx.Err())
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return &Result{
			Step:       step.Name,
			ExitCode:   -1,
			TimedOut:   true,
			DurationMs: durationMs,
			Summary:    fmt.Sprintf("timeout after %s", timeout),
			Findings:   tail(combine(stdout, stderr)+fmt.Sprintf("\n%s timed out after %s", step.Name, timeout), maxOutputLen),
			Stdout:     stdout,
			Stderr:     stderr,
		}, nil
	}
	if err != nil {
		return &Result{
			Step:       step.Name,
			ExitCode:   -1,
			DurationMs: durationMs,
			Summary:    "could not start command",
			Findings:   err.Error(),
			Stdout:     stdout,
			Stderr:     stderr,
		}, nil
	}

	parser, ok := r.parsers[step.Parser]
	if !ok {
		parser = r.parsers["generic"]
	}
	parsed := parser.Parse(stdout, stderr, exitCode)

	return &Result{
		Step:       step.Name,
		Passed:     exitCode == 0 && parsed.Passed,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    parsed.Summary,
		Findings:   parsed.Findings,
		Stdout:     stdout,
		Stderr:     stderr,
	}, nil
}
