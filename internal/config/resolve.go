package config

import (
	"time"

	"github.com/lucasnoah/converge/internal/checks"
	"github.com/lucasnoah/converge/internal/poll"
)

// Steps converts the configured checks into runner steps, in order.
func (c *Config) Steps() []checks.Step {
	steps := make([]checks.Step, 0, len(c.Checks))
	for _, ch := range c.Checks {
		steps = append(steps, checks.Step{
			Name:    ch.Name,
			Command: ch.Command,
			Args:    ch.Args,
			Timeout: mustDuration(ch.Timeout, checks.DefaultTimeout),
			Parser:  ch.Parser,
		})
	}
	return steps
}

// Scheduler builds the poll scheduler, falling back to the defaults for
// unset fields.
func (c *Config) Scheduler() poll.Scheduler {
	def := poll.DefaultScheduler()
	return poll.Scheduler{
		Floor:   mustDuration(c.Poll.Floor, def.Floor),
		Step:    mustDuration(c.Poll.Step, def.Step),
		Ceiling: mustDuration(c.Poll.Ceiling, def.Ceiling),
		Queued:  mustDuration(c.Poll.Queued, def.Queued),
		Default: mustDuration(c.Poll.Default, def.Default),
	}
}

// AgentTimeout is the per-invocation agent timeout.
func (c *Config) AgentTimeout() time.Duration {
	return mustDuration(c.Agent.Timeout, 15*time.Minute)
}

// RemoteTimeout bounds the whole remote reconciliation phase.
func (c *Config) RemoteTimeout() time.Duration {
	return mustDuration(c.Budget.RemoteTimeout, 60*time.Minute)
}

// PostPushWindow is how long after a push a run's creation time still matches.
func (c *Config) PostPushWindow() time.Duration {
	return mustDuration(c.Remote.PostPushWindow, 2*time.Minute)
}

// FallbackWindow is the age limit for the newest-run fallback match.
func (c *Config) FallbackWindow() time.Duration {
	return mustDuration(c.Remote.FallbackWindow, 10*time.Minute)
}

// DiscoveryDelay is the wait between run discovery attempts.
func (c *Config) DiscoveryDelay() time.Duration {
	return mustDuration(c.Remote.DiscoveryDelay, 15*time.Second)
}
