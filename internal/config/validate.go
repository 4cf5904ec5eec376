package config

import (
	"fmt"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedParsers is the set of valid parser names for checks.
var recognizedParsers = map[string]bool{
	"typescript": true,
	"gotest":     true,
	"generic":    true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	duration := func(field, value string) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			add(field, "invalid duration %q", value)
			return
		}
		if d < 0 {
			add(field, "must not be negative")
		}
	}

	if len(cfg.Checks) == 0 {
		add("checks", "at least one check is required (none configured or detected)")
	}
	names := make(map[string]bool)
	for i, c := range cfg.Checks {
		prefix := fmt.Sprintf("checks[%d]", i)
		if c.Name == "" {
			add(prefix+".name", "is required")
		} else if names[c.Name] {
			add(prefix+".name", "duplicate check name %q", c.Name)
		}
		names[c.Name] = true
		if c.Command == "" {
			add(prefix+".command", "is required")
		}
		if c.Parser != "" && !recognizedParsers[c.Parser] {
			add(prefix+".parser", "unrecognized parser %q", c.Parser)
		}
		duration(prefix+".timeout", c.Timeout)
	}

	if cfg.Agent.Command == "" {
		add("agent.command", "is required")
	}
	duration("agent.timeout", cfg.Agent.Timeout)

	b := cfg.Budget
	for _, f := range []struct {
		field string
		value int
	}{
		{"budget.max_fix_attempts", b.MaxFixAttempts},
		{"budget.max_remote_retries", b.MaxRemoteRetries},
		{"budget.max_rounds", b.MaxRounds},
		{"budget.max_pushes", b.MaxPushes},
		{"budget.max_polls", b.MaxPolls},
	} {
		if f.value < 0 {
			add(f.field, "must not be negative")
		}
	}
	duration("budget.remote_timeout", b.RemoteTimeout)

	if cfg.Concurrency < 1 {
		add("concurrency", "must be at least 1")
	}

	p := cfg.Poll
	duration("poll.floor", p.Floor)
	duration("poll.step", p.Step)
	duration("poll.ceiling", p.Ceiling)
	duration("poll.queued", p.Queued)
	duration("poll.default", p.Default)
	if fl, ce := mustDuration(p.Floor, 0), mustDuration(p.Ceiling, 0); p.Floor != "" && p.Ceiling != "" && ce < fl {
		add("poll.ceiling", "must not be below poll.floor")
	}

	r := cfg.Remote
	duration("remote.post_push_window", r.PostPushWindow)
	duration("remote.fallback_window", r.FallbackWindow)
	duration("remote.discovery_delay", r.DiscoveryDelay)

	return errs
}
