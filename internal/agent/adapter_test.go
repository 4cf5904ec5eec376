package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"
)

// TestHelperProcess is re-executed as the fake agent. The mode selects its
// behaviour; the prompt arrives as the last argument.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("CONVERGE_TEST_HELPER") != "1" {
		return
	}
	args := os.Args[1:]
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	switch os.Getenv("CONVERGE_TEST_MODE") {
	case "echo":
		fmt.Print(strings.Join(args, " "))
	case "analysis":
		fmt.Println("Looking at the log...")
		fmt.Println("CLASSIFICATION: environmental")
		fmt.Println("CONFIDENCE: high")
		fmt.Println("STRATEGY: retry later")
		fmt.Println("ROOT CAUSE: registry.npmjs.org timed out")
	case "exit":
		code, _ := strconv.Atoi(os.Getenv("CONVERGE_EXIT_CODE"))
		fmt.Fprint(os.Stderr, "agent gave up")
		os.Exit(code)
	case "slow":
		time.Sleep(30 * time.Second)
	default:
		os.Exit(2)
	}
	os.Exit(0)
}

func helperFactory(mode string, envExtra ...string) CommandFactory {
	return func(ctx context.Context, dir string, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=^TestHelperProcess$", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "CONVERGE_TEST_HELPER=1", "CONVERGE_TEST_MODE="+mode)
		cmd.Env = append(cmd.Env, envExtra...)
		return cmd
	}
}

func newTestAdapter(t *testing.T, mode string, opts ...Option) *Adapter {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	base := []Option{
		WithCommand("fake-agent", "--print", PromptPlaceholder, "--tail"),
		WithCommandFactory(helperFactory(mode)),
		WithTimeout(5 * time.Second),
	}
	return New(t.TempDir(), append(base, opts...)...)
}

func TestFix_Success(t *testing.T) {
	var live bytes.Buffer
	a := newTestAdapter(t, "echo", WithLiveOutput(&live))

	res := a.Fix(context.Background(), Request{
		Phase:     PhaseLocal,
		CheckName: "lint",
		Command:   "npm run lint",
		ErrorText: "src/a.ts:3 semicolon missing",
		Attempt:   1,
	})
	if !res.Fixed() {
		t.Fatalf("expected fixed result, got %+v", res)
	}
	if !strings.HasPrefix(res.Output, "fake-agent --print # Fix failing check: lint") {
		t.Errorf("prompt not substituted for placeholder: %q", res.Output[:60])
	}
	if !strings.HasSuffix(res.Output, "--tail") {
		t.Error("arguments after the placeholder should be kept")
	}
	if !strings.Contains(res.Output, "semicolon missing") {
		t.Error("error text missing from prompt")
	}
	if live.String() != res.Output {
		t.Error("live output should mirror captured stdout")
	}
	if res.Elapsed <= 0 {
		t.Error("elapsed should be positive")
	}
}

func TestFix_CIJobPromptIncludesAnalysis(t *testing.T) {
	a := newTestAdapter(t, "echo")

	res := a.Fix(context.Background(), Request{
		Phase:     PhaseCIJob,
		JobName:   "unit-tests",
		RunURL:    "https://github.com/o/r/actions/runs/7",
		ErrorText: "FAIL TestAdd",
		Analysis:  &Analysis{Classification: "code", Confidence: "medium", Strategy: "fix assertion", RootCause: "off by one"},
		History:   []string{"- attempt 1: not fixed"},
	})
	for _, want := range []string{"Fix failing CI job: unit-tests", "actions/runs/7", "ROOT CAUSE: off by one", "attempt 1: not fixed"} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestFix_NonZeroExit(t *testing.T) {
	a := newTestAdapter(t, "exit", WithCommandFactory(helperFactory("exit", "CONVERGE_EXIT_CODE=3")))

	res := a.Fix(context.Background(), Request{CheckName: "lint", ErrorText: "x"})
	if res.Fixed() {
		t.Fatal("non-zero exit must not count as fixed")
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Output, "agent gave up") {
		t.Errorf("stderr should be surfaced, got %q", res.Output)
	}
}

func TestFix_Timeout(t *testing.T) {
	a := newTestAdapter(t, "slow", WithTimeout(200*time.Millisecond))

	res := a.Fix(context.Background(), Request{CheckName: "lint", ErrorText: "x"})
	if !res.TimedOut || res.Fixed() || res.Interrupted {
		t.Fatalf("expected timed out result, got %+v", res)
	}
	if res.Elapsed > 10*time.Second {
		t.Errorf("process was not killed promptly: %s", res.Elapsed)
	}
}

func TestFix_Interrupted(t *testing.T) {
	a := newTestAdapter(t, "slow")
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res := a.Fix(ctx, Request{CheckName: "lint", ErrorText: "x"})
	if !res.Interrupted || res.TimedOut || res.Fixed() {
		t.Fatalf("expected interrupted result, got %+v", res)
	}
}

func TestFix_LaunchFailure(t *testing.T) {
	a := New(t.TempDir(), WithCommand("definitely-not-a-real-agent-binary"))
	res := a.Fix(context.Background(), Request{CheckName: "lint", ErrorText: "x"})
	if res.Fixed() || res.ExitCode != -1 {
		t.Fatalf("expected launch failure result, got %+v", res)
	}
	if err := a.Available(); err == nil {
		t.Error("Available should fail for a missing binary")
	}
}

func TestAnalyze(t *testing.T) {
	a := newTestAdapter(t, "analysis")

	an, err := a.Analyze(context.Background(), Request{CheckName: "install", ErrorText: "ETIMEDOUT"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if an.Classification != "environmental" || an.Confidence != "high" {
		t.Errorf("unexpected analysis %+v", an)
	}
	if !an.Environmental() {
		t.Error("high-confidence environmental analysis should be flagged")
	}
	if an.RootCause != "registry.npmjs.org timed out" {
		t.Errorf("root cause = %q", an.RootCause)
	}
}

func TestAnalyze_NoClassification(t *testing.T) {
	a := newTestAdapter(t, "exit", WithCommandFactory(helperFactory("exit", "CONVERGE_EXIT_CODE=0")))
	if _, err := a.Analyze(context.Background(), Request{CheckName: "x", ErrorText: "y"}); err == nil {
		t.Fatal("expected error when output has no classification")
	}
}

func TestParseAnalysis(t *testing.T) {
	out := "**CLASSIFICATION:** Code\n- CONFIDENCE: Medium\nSTRATEGY: add the missing import\nROOT_CAUSE: fmt not imported: see main.go\n"
	an := ParseAnalysis(out)
	if an == nil {
		t.Fatal("expected analysis")
	}
	if an.Classification != "code" || an.Confidence != "medium" {
		t.Errorf("unexpected %+v", an)
	}
	if an.RootCause != "fmt not imported: see main.go" {
		t.Errorf("root cause = %q", an.RootCause)
	}
	if an.Environmental() {
		t.Error("code failure is not environmental")
	}
	if ParseAnalysis("nothing here") != nil {
		t.Error("expected nil for output without markers")
	}
	var nilAnalysis *Analysis
	if nilAnalysis.Environmental() || nilAnalysis.String() != "" {
		t.Error("nil analysis should be inert")
	}
}

type fakePTY struct {
	started *exec.Cmd
}

type eofRWC struct{}

func (eofRWC) Read([]byte) (int, error)    { return 0, io.EOF }
func (eofRWC) Write(p []byte) (int, error) { return len(p), nil }
func (eofRWC) Close() error                { return nil }

func (f *fakePTY) Start(cmd *exec.Cmd) (io.ReadWriteCloser, error) {
	f.started = cmd
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return eofRWC{}, nil
}

func TestInteractive(t *testing.T) {
	p := &fakePTY{}
	a := newTestAdapter(t, "echo",
		WithInteractive("fake-claude"),
		WithPTY(p),
		WithTerminalCheck(func() bool { return true }),
	)

	err := a.Interactive(context.Background(), Request{CheckName: "lint", ErrorText: "boom", Attempt: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.started == nil {
		t.Fatal("session was not started on the pty")
	}
	last := p.started.Args[len(p.started.Args)-1]
	if !strings.Contains(last, "gave up after 3 attempts") {
		t.Errorf("interactive prompt = %q", last)
	}
}

func TestInteractive_TimesOut(t *testing.T) {
	a := newTestAdapter(t, "slow",
		WithInteractive("fake-claude"),
		WithPTY(&fakePTY{}),
		WithTerminalCheck(func() bool { return true }),
		WithTimeout(200*time.Millisecond),
	)

	start := time.Now()
	err := a.Interactive(context.Background(), Request{CheckName: "lint", ErrorText: "boom"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("session was not killed promptly: %s", elapsed)
	}
}

type chanWriter chan string

func (c chanWriter) Write(p []byte) (int, error) {
	c <- string(p)
	return len(p), nil
}

func TestPumpInput_StopsAfterDone(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	dst := make(chanWriter, 4)
	done := make(chan struct{})
	exited := pumpInput(dst, r, done)

	go w.Write([]byte("y\n"))
	if got := <-dst; got != "y\n" {
		t.Fatalf("forwarded %q", got)
	}
	close(done)
	// the goroutine is blocked in its next read; one more keystroke releases it
	go w.Write([]byte("q"))

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("input goroutine still running after the session ended")
	}
	if len(dst) != 0 {
		t.Errorf("input typed after the session ended was forwarded: %q", <-dst)
	}
}

func TestInteractive_RequiresTerminalAndCommand(t *testing.T) {
	noCmd := newTestAdapter(t, "echo", WithTerminalCheck(func() bool { return true }))
	if err := noCmd.Interactive(context.Background(), Request{}); !errors.Is(err, ErrNoTerminal) {
		t.Errorf("expected ErrNoTerminal without command, got %v", err)
	}

	noTTY := newTestAdapter(t, "echo", WithInteractive("claude"), WithTerminalCheck(func() bool { return false }))
	if err := noTTY.Interactive(context.Background(), Request{}); !errors.Is(err, ErrNoTerminal) {
		t.Errorf("expected ErrNoTerminal without terminal, got %v", err)
	}
}
