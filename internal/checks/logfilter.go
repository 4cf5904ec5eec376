package checks

import (
	"regexp"
	"strings"
)

var (
	// gh run view --log prefixes each line with "<job>\t<step>\t<timestamp> ".
	ghLogPrefixRe = regexp.MustCompile(`^[^\t]*\t[^\t]*\t\d{4}-\d{2}-\d{2}T[0-9:.]+Z ?`)
	errorLineRe   = regexp.MustCompile(`(?i)(\berror\b|\bfail(ed|ure)?\b|\bpanic\b|exception|traceback|✗|✖|##\[error\]|assert|expected|undefined|cannot find|not found|exit code [1-9])`)
)

// contextLines is how many lines after an error-relevant line are kept.
const contextLines = 2

// FilterErrorLines reduces a CI log to the lines relevant to a failure, each
// followed by a little context. If nothing looks error-relevant the tail of the
// log is returned. The result is capped at maxLines lines.
func FilterErrorLines(log string, maxLines int) string {
	if maxLines <= 0 {
		maxLines = 200
	}
	lines := strings.Split(strings.ReplaceAll(log, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = ghLogPrefixRe.ReplaceAllString(line, "")
	}

	var keep []string
	until := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if errorLineRe.MatchString(line) {
			until = i + contextLines
		}
		if i <= until {
			keep = append(keep, line)
		}
	}

	if len(keep) == 0 {
		keep = nonEmpty(lines)
	}
	if len(keep) > maxLines {
		keep = keep[len(keep)-maxLines:]
	}
	return strings.Join(keep, "\n")
}

func nonEmpty(lines []string) []string {
	var out []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
