package checks

import (
	"fmt"
	"regexp"
	"strings"
)

// GoParser keeps failing tests, compiler diagnostics and panics from go
// build/vet/test output.
type GoParser struct{}

var (
	goFailRe  = regexp.MustCompile(`^--- FAIL: (\S+)`)
	goDiagRe  = regexp.MustCompile(`^\s*\S+\.go:\d+(:\d+)?: .+`)
	goPanicRe = regexp.MustCompile(`^panic: `)
	goPkgRe   = regexp.MustCompile(`^(FAIL|ok)\s+\S+`)
)

func (p *GoParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "ok"}
	}

	var keep []string
	failed := 0
	for _, line := range strings.Split(combine(stdout, stderr), "\n") {
		trimmed := strings.TrimRight(line, " \t\r")
		switch {
		case goFailRe.MatchString(trimmed):
			failed++
			keep = append(keep, trimmed)
		case goDiagRe.MatchString(trimmed), goPanicRe.MatchString(trimmed):
			keep = append(keep, strings.TrimSpace(trimmed))
		case strings.HasPrefix(trimmed, "FAIL") && goPkgRe.MatchString(trimmed):
			keep = append(keep, trimmed)
		}
	}
	if len(keep) == 0 {
		return (&GenericParser{}).Parse(stdout, stderr, exitCode)
	}

	summary := fmt.Sprintf("%d diagnostics", len(keep))
	if failed > 0 {
		summary = fmt.Sprintf("%d failing tests", failed)
	}
	return ParseResult{
		Passed:   false,
		Summary:  summary,
		Findings: tail(strings.Join(keep, "\n"), maxOutputLen),
	}
}
