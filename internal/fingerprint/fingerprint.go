package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Hash identifies a failure. Equal hashes mean "same problem".
type Hash string

// hashLen is the number of hex characters kept from the digest.
const hashLen = 16

var (
	ansiRe        = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	timestampRe   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	durationRe    = regexp.MustCompile(`\(\d+(?:\.\d+)?(?:ns|us|µs|ms|s|m)\)`)
	// "FAIL\tpkg\t0.012s", "ok  pkg 0.004s", "took 12ms" at the end of a line
	trailingDurRe = regexp.MustCompile(`(?m)([ \t])\d+(?:\.\d+)?[ \t]?(?:ns|us|µs|ms|s|m|sec|secs|seconds)\.?[ \t]*$`)
	// "Time: 1.2 s", "Done in 3.21s", "Duration 840ms"
	labeledDurRe  = regexp.MustCompile(`(?i)\b(time|done in|duration|elapsed|took|finished in)(:?[ \t]*)\d+(?:\.\d+)?[ \t]?(?:ns|us|µs|ms|s|m|sec|secs|seconds)\b`)
	pointerRe     = regexp.MustCompile(`0x[0-9a-fA-F]{6,}`)
	spaceRe       = regexp.MustCompile(`[ \t]+`)
)

// Normalize strips volatile noise from failure text so that two runs of the
// same failure produce the same fingerprint. Only noise that changes between
// runs (colors, timestamps, timings, pointer addresses, whitespace) is removed.
func Normalize(text string) string {
	s := ansiRe.ReplaceAllString(text, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = timestampRe.ReplaceAllString(s, "<ts>")
	s = durationRe.ReplaceAllString(s, "(<dur>)")
	s = labeledDurRe.ReplaceAllString(s, "${1}${2}<dur>")
	s = trailingDurRe.ReplaceAllString(s, "${1}<dur>")
	s = pointerRe.ReplaceAllString(s, "0x<addr>")

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaceRe.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Of returns the fingerprint of failure text. It is pure and never fails.
func Of(text string) Hash {
	sum := sha256.Sum256([]byte(Normalize(text)))
	return Hash(hex.EncodeToString(sum[:])[:hashLen])
}

// Short returns the first 8 characters, for log lines.
func (h Hash) Short() string {
	if len(h) <= 8 {
		return string(h)
	}
	return string(h[:8])
}

// Set is the per-round SeenErrors set. The zero value is not usable; call NewSet.
type Set struct {
	seen map[Hash]bool
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{seen: make(map[Hash]bool)}
}

// Add records h. It reports whether h was newly added.
func (s *Set) Add(h Hash) bool {
	if s.seen[h] {
		return false
	}
	s.seen[h] = true
	return true
}

// Has reports whether h has been recorded.
func (s *Set) Has(h Hash) bool {
	return s.seen[h]
}

// Reset forgets every recorded fingerprint.
func (s *Set) Reset() {
	clear(s.seen)
}

// Len returns the number of recorded fingerprints.
func (s *Set) Len() int {
	return len(s.seen)
}
