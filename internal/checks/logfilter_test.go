package checks

import (
	"strings"
	"testing"
)

func TestFilterErrorLines_StripsGhPrefixesAndKeepsContext(t *testing.T) {
	log := strings.Join([]string{
		"build\tSet up job\t2026-01-02T10:00:00.0000000Z Current runner version: '2.300.0'",
		"build\tRun go build\t2026-01-02T10:00:01.0000000Z go: downloading example.com/x v1.0.0",
		"build\tRun go build\t2026-01-02T10:00:02.0000000Z ./main.go:10:2: undefined: helper",
		"build\tRun go build\t2026-01-02T10:00:02.1000000Z note: see above",
		"build\tRun go build\t2026-01-02T10:00:02.2000000Z ##[error]Process completed with exit code 1.",
	}, "\n")

	got := FilterErrorLines(log, 50)
	want := "./main.go:10:2: undefined: helper\nnote: see above\n##[error]Process completed with exit code 1."
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestFilterErrorLines_FallsBackToTail(t *testing.T) {
	log := "line one\nline two\nline three\n"
	got := FilterErrorLines(log, 2)
	if got != "line two\nline three" {
		t.Errorf("got %q", got)
	}
}

func TestFilterErrorLines_CapsLines(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 500; i++ {
		b.WriteString("error: something\n")
	}
	got := FilterErrorLines(b.String(), 10)
	if n := len(strings.Split(got, "\n")); n != 10 {
		t.Errorf("expected 10 lines, got %d", n)
	}
}
