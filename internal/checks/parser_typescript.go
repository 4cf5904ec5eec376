package checks

import (
	"fmt"
	"regexp"
	"strings"
)

// TypeScriptParser keeps only the diagnostic lines of tsc --noEmit output.
type TypeScriptParser struct{}

// tsc output format: src/auth.ts(42,5): error TS2345: Argument of type...
var tscLineRe = regexp.MustCompile(`^(.+)\((\d+),(\d+)\):\s+error\s+(TS\d+):\s+(.+)$`)

func (p *TypeScriptParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	var diags []string
	for _, line := range strings.Split(combine(stdout, stderr), "\n") {
		line = strings.TrimSpace(line)
		if tscLineRe.MatchString(line) {
			diags = append(diags, line)
		}
	}

	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "no errors"}
	}
	if len(diags) == 0 {
		return (&GenericParser{}).Parse(stdout, stderr, exitCode)
	}
	return ParseResult{
		Passed:   false,
		Summary:  fmt.Sprintf("%d errors", len(diags)),
		Findings: tail(strings.Join(diags, "\n"), maxOutputLen),
	}
}
