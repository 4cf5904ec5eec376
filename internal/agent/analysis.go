package agent

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/lucasnoah/converge/internal/prompt"
)

// Analysis is the agent's classification of a failure.
type Analysis struct {
	Classification string
	Confidence     string
	Strategy       string
	RootCause      string
}

// Environmental reports a high-confidence verdict that the failure lies
// outside the repository.
func (a *Analysis) Environmental() bool {
	if a == nil || !strings.EqualFold(a.Confidence, "high") {
		return false
	}
	switch strings.ToLower(a.Classification) {
	case "environmental", "infrastructure":
		return true
	}
	return false
}

func (a *Analysis) String() string {
	if a == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "CLASSIFICATION: %s\n", a.Classification)
	fmt.Fprintf(&b, "CONFIDENCE: %s\n", a.Confidence)
	fmt.Fprintf(&b, "STRATEGY: %s\n", a.Strategy)
	fmt.Fprintf(&b, "ROOT CAUSE: %s", a.RootCause)
	return b.String()
}

// ParseAnalysis reads the CLASSIFICATION/CONFIDENCE/STRATEGY/ROOT CAUSE lines
// from agent output. Returns nil when none are present.
func ParseAnalysis(out string) *Analysis {
	var a Analysis
	found := false
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "*-> "))
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(strings.Trim(strings.TrimSpace(val), "*`"))
		switch strings.ToUpper(strings.Trim(strings.TrimSpace(key), "*`")) {
		case "CLASSIFICATION":
			a.Classification = strings.ToLower(val)
		case "CONFIDENCE":
			a.Confidence = strings.ToLower(val)
		case "STRATEGY":
			a.Strategy = val
		case "ROOT CAUSE", "ROOT_CAUSE":
			a.RootCause = val
		default:
			continue
		}
		found = true
	}
	if !found {
		return nil
	}
	return &a
}

// Analyze asks the agent to classify a failure without changing files.
func (a *Adapter) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	text, err := prompt.RenderNamed(prompt.Analyze, a.dir, prompt.Vars{
		"target":     req.Target(),
		"error_text": req.ErrorText,
	})
	if err != nil {
		return nil, err
	}
	res := a.invoke(ctx, text, io.Discard)
	if !res.Fixed() {
		return nil, fmt.Errorf("analysis of %s failed (exit %d)", req.Target(), res.ExitCode)
	}
	an := ParseAnalysis(res.Output)
	if an == nil {
		return nil, fmt.Errorf("analysis of %s: no classification in agent output", req.Target())
	}
	return an, nil
}
