package checks

// ParseResult holds the normalized output from a parser. Findings is the
// error-relevant text of a failure, empty on success.
type ParseResult struct {
	Passed   bool   `json:"passed"`
	Summary  string `json:"summary"`
	Findings string `json:"findings"`
}

// Parser converts raw command output into a structured ParseResult.
type Parser interface {
	Parse(stdout string, stderr string, exitCode int) ParseResult
}
