package controller

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why a controller stopped without converging.
type Kind string

const (
	// KindLoopBreaker means a failure reappeared after a fix was applied.
	KindLoopBreaker Kind = "loop-breaker"
	// KindBudgetExhausted means an attempt, round, push, poll or retry cap was hit.
	KindBudgetExhausted Kind = "budget-exhausted"
	// KindFatalConfig means the environment cannot support a run at all.
	KindFatalConfig Kind = "fatal-config"
	// KindInterrupted means the operator cancelled the run.
	KindInterrupted Kind = "interrupted"
	// KindTimeout means the remote phase ran past its wall-clock limit.
	KindTimeout Kind = "timeout"
)

// Phase names the part of the controller that was active.
type Phase string

const (
	PhasePreflight Phase = "preflight"
	PhaseLocal     Phase = "local"
	PhaseRemote    Phase = "remote"
)

// TerminalError describes every non-converged outcome. It carries enough of
// the last known state for an operator to resume by hand.
type TerminalError struct {
	Kind            Kind
	Phase           Phase
	Repo            string
	CommitID        string
	RunID           int64
	RunURL          string
	RemainingLocal  int
	RemainingRemote int
	Reason          string
	Err             error
}

func (e *TerminalError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", e.Reason, e.Kind)
	if e.RunID != 0 {
		fmt.Fprintf(&b, " run %d", e.RunID)
		if e.RunURL != "" {
			fmt.Fprintf(&b, " %s", e.RunURL)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *TerminalError) Unwrap() error { return e.Err }

// KindOf returns the kind of a TerminalError in err's chain, or "".
func KindOf(err error) Kind {
	var te *TerminalError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
