package checks

import "fmt"

// GenericParser is the fallback parser: exit code decides, output tail is the finding.
type GenericParser struct{}

// maxOutputLen caps how much output is kept as findings.
const maxOutputLen = 8000

func (p *GenericParser) Parse(stdout string, stderr string, exitCode int) ParseResult {
	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "passed (exit code 0)"}
	}
	return ParseResult{
		Passed:   false,
		Summary:  fmt.Sprintf("exit code %d, stdout=%d bytes, stderr=%d bytes", exitCode, len(stdout), len(stderr)),
		Findings: tail(combine(stdout, stderr), maxOutputLen),
	}
}

func combine(stdout, stderr string) string {
	if stdout == "" {
		return stderr
	}
	if stderr == "" {
		return stdout
	}
	return stdout + "\n" + stderr
}

// tail keeps the last n bytes; error summaries and tracebacks are usually at the end.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…(truncated)\n" + s[len(s)-n:]
}
