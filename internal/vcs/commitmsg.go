package vcs

import (
	"strings"
	"unicode"
)

const subjectMax = 72

// CommitMessage derives a one or two line commit message from why the change
// was made: the failing target, plus the first line of its error if any. The
// result is plain ASCII with no trailers.
func CommitMessage(target, errText string) string {
	target = asciiLine(target)
	if target == "" {
		target = "checks"
	}
	subject := clip("Fix failing "+target, subjectMax)

	detail := firstMeaningfulLine(errText)
	if detail == "" {
		return subject
	}
	return subject + "\n\n" + clip(detail, subjectMax)
}

func firstMeaningfulLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = asciiLine(line)
		if len(line) >= 4 {
			return line
		}
	}
	return ""
}

// asciiLine drops control and non-ASCII characters and collapses whitespace.
func asciiLine(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r > unicode.MaxASCII:
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimRight(s[:n-3], " ") + "..."
}
