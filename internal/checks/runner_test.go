package checks

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lucasnoah/converge/internal/fingerprint"
)

// mockCmd records calls and returns configured results.
type mockCmd struct {
	calls   []mockCall
	results []mockResult
	callIdx int
	block   bool // wait for ctx to expire before returning
}

type mockCall struct {
	Dir  string
	Name string
	Args []string
}

type mockResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (m *mockCmd) Run(ctx context.Context, dir string, name string, args ...string) (string, string, int, error) {
	m.calls = append(m.calls, mockCall{Dir: dir, Name: name, Args: args})
	if m.block {
		<-ctx.Done()
		return "partial output", "", -1, ctx.Err()
	}
	if m.callIdx >= len(m.results) {
		return "", "", 0, nil
	}
	r := m.results[m.callIdx]
	m.callIdx++
	return r.Stdout, r.Stderr, r.ExitCode, r.Err
}

func TestRunner_Run_HappyPath(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stdout: "all good", ExitCode: 0},
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", Step{
		Name:    "lint",
		Command: "npm",
		Args:    []string{"run", "lint"},
		Timeout: 30 * time.Second,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Passed {
		t.Errorf("expected passed=true, got false")
	}
	if result.Step != "lint" {
		t.Errorf("expected step=lint, got %q", result.Step)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(mock.calls))
	}
	if mock.calls[0].Dir != "/tmp/test" {
		t.Errorf("expected dir=/tmp/test, got %q", mock.calls[0].Dir)
	}
	if mock.calls[0].Name != "npm" || strings.Join(mock.calls[0].Args, " ") != "run lint" {
		t.Errorf("unexpected call %+v", mock.calls[0])
	}
}

func TestRunner_Run_ShellStringUsesSh(t *testing.T) {
	mock := &mockCmd{results: []mockResult{{ExitCode: 0}}}
	runner := NewRunner(mock)

	_, err := runner.Run(context.Background(), "/tmp/test", Step{Name: "lint", Command: "npm run lint && npm run fmt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	call := mock.calls[0]
	if call.Name != "sh" || len(call.Args) != 2 || call.Args[0] != "-c" {
		t.Errorf("expected sh -c, got %+v", call)
	}
}

func TestRunner_Run_FailedCheckIsResultNotError(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stdout: "src/a.ts: semicolon missing", ExitCode: 1},
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", Step{Name: "lint", Command: "eslint"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed {
		t.Errorf("expected passed=false, got true")
	}
	if result.ExitCode != 1 {
		t.Errorf("expected exit_code=1, got %d", result.ExitCode)
	}
	if !strings.Contains(result.ErrorText(), "semicolon missing") {
		t.Errorf("error text should carry output, got %q", result.ErrorText())
	}
}

func TestRunner_Run_LaunchFailureIsResult(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Err: fmt.Errorf("exec eslint: executable file not found in $PATH")},
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", Step{Name: "lint", Command: "eslint"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Passed || result.ExitCode != -1 {
		t.Errorf("expected failed result with exit -1, got %+v", result)
	}
	if !strings.Contains(result.ErrorText(), "not found") {
		t.Errorf("unexpected error text %q", result.ErrorText())
	}
}

func TestRunner_Run_Timeout(t *testing.T) {
	mock := &mockCmd{block: true}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", Step{
		Name:    "test",
		Command: "go",
		Args:    []string{"test", "./..."},
		Timeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.TimedOut || result.Passed {
		t.Errorf("expected timed out failure, got %+v", result)
	}
	if !strings.Contains(result.Findings, "timed out") {
		t.Errorf("findings should mention timeout, got %q", result.Findings)
	}
}

func TestRunner_Run_ParentCancelIsError(t *testing.T) {
	mock := &mockCmd{block: true}
	runner := NewRunner(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runner.Run(ctx, "/tmp/test", Step{Name: "test", Command: "go"}); err == nil {
		t.Fatal("expected error when parent context is cancelled")
	}
}

func TestRunner_Run_UnknownParserFallsToGeneric(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{Stdout: "output", ExitCode: 0},
		},
	}
	runner := NewRunner(mock)

	result, err := runner.Run(context.Background(), "/tmp/test", Step{
		Name:    "custom",
		Command: "custom-check",
		Parser:  "unknown-parser",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary != "passed (exit code 0)" {
		t.Errorf("expected generic summary, got %q", result.Summary)
	}
}

func TestGoParser_KeepsFailuresAndDiagnostics(t *testing.T) {
	out := `=== RUN   TestAdd
    add_test.go:12: got 3, want 4
--- FAIL: TestAdd (0.00s)
=== RUN   TestSub
--- PASS: TestSub (0.00s)
FAIL
FAIL	example.com/calc	0.012s`
	r := (&GoParser{}).Parse(out, "", 1)
	if r.Passed {
		t.Fatal("expected failure")
	}
	if r.Summary != "1 failing tests" {
		t.Errorf("summary = %q", r.Summary)
	}
	for _, want := range []string{"add_test.go:12: got 3, want 4", "--- FAIL: TestAdd", "FAIL\texample.com/calc"} {
		if !strings.Contains(r.Findings, want) {
			t.Errorf("findings missing %q:\n%s", want, r.Findings)
		}
	}
	if strings.Contains(r.Findings, "TestSub") {
		t.Errorf("passing test leaked into findings:\n%s", r.Findings)
	}
}

func TestParsers_SameFailureSameFingerprint(t *testing.T) {
	goRun := func(elapsed, pkgElapsed string) string {
		return "=== RUN   TestAdd\n    add_test.go:12: got 3, want 4\n--- FAIL: TestAdd (" + elapsed + ")\nFAIL\n" +
			"ok  \texample.com/calc/util\t" + pkgElapsed + "\nFAIL\texample.com/calc\t" + pkgElapsed + "\n"
	}
	tests := []struct {
		name   string
		parser Parser
		a, b   string
	}{
		{"go", &GoParser{}, goRun("0.00s", "0.012s"), goRun("0.03s", "0.015s")},
		{"generic go", &GenericParser{}, goRun("0.00s", "0.004s"), goRun("0.01s", "1.250s")},
		{"generic jest", &GenericParser{}, "1 failed\nTime: 1.2 s\nDone in 3.21s.", "1 failed\nTime: 4.05 s\nDone in 0.77s."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.parser.Parse(tt.a, "", 1).Findings
			b := tt.parser.Parse(tt.b, "", 1).Findings
			if fingerprint.Of(a) != fingerprint.Of(b) {
				t.Errorf("timing changed the fingerprint:\n%s\n---\n%s", a, b)
			}
		})
	}
}

func TestGoParser_CompileError(t *testing.T) {
	stderr := "# example.com/calc\n./calc.go:7:2: undefined: foo\n"
	r := (&GoParser{}).Parse("", stderr, 1)
	if r.Findings != "./calc.go:7:2: undefined: foo" {
		t.Errorf("findings = %q", r.Findings)
	}
}

func TestTypeScriptParser(t *testing.T) {
	out := "src/auth.ts(42,5): error TS2345: Argument of type 'string' is not assignable.\nFound 1 error.\n"
	r := (&TypeScriptParser{}).Parse(out, "", 2)
	if r.Passed || r.Summary != "1 errors" {
		t.Errorf("unexpected result %+v", r)
	}
	if !strings.HasPrefix(r.Findings, "src/auth.ts(42,5)") {
		t.Errorf("findings = %q", r.Findings)
	}
	if ok := (&TypeScriptParser{}).Parse("", "", 0); !ok.Passed {
		t.Error("exit 0 should pass")
	}
}

func TestGenericParser_TruncatesToTail(t *testing.T) {
	long := strings.Repeat("x", maxOutputLen) + "THE END"
	r := (&GenericParser{}).Parse(long, "", 1)
	if !strings.HasSuffix(r.Findings, "THE END") {
		t.Error("tail should be kept")
	}
	if !strings.HasPrefix(r.Findings, "…(truncated)") {
		t.Error("truncation marker missing")
	}
}
