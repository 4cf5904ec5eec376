package config

// Config is the top-level configuration parsed from converge.yaml or converge.toml.
type Config struct {
	Checks      []Check `yaml:"checks" toml:"checks"`
	Agent       Agent   `yaml:"agent" toml:"agent"`
	Budget      Budget  `yaml:"budget" toml:"budget"`
	Poll        Poll    `yaml:"poll" toml:"poll"`
	Remote      Remote  `yaml:"remote" toml:"remote"`
	Database    string  `yaml:"database" toml:"database"`
	Concurrency int     `yaml:"concurrency" toml:"concurrency"`
	NoVerify    bool    `yaml:"no_verify" toml:"no_verify"`
	Preflight   *bool   `yaml:"preflight" toml:"preflight"`

	// Source is the file the config was read from; empty when detected.
	Source string `yaml:"-" toml:"-"`
}

// Check is one ordered local verification step.
type Check struct {
	Name    string   `yaml:"name" toml:"name"`
	Command string   `yaml:"command" toml:"command"`
	Args    []string `yaml:"args" toml:"args"`
	Parser  string   `yaml:"parser" toml:"parser"`
	Timeout string   `yaml:"timeout" toml:"timeout"`
}

// Agent configures the remediation agent.
type Agent struct {
	Command            string   `yaml:"command" toml:"command"`
	Args               []string `yaml:"args" toml:"args"`
	Timeout            string   `yaml:"timeout" toml:"timeout"`
	Analyze            *bool    `yaml:"analyze" toml:"analyze"`
	InteractiveCommand string   `yaml:"interactive_command" toml:"interactive_command"`
	InteractiveArgs    []string `yaml:"interactive_args" toml:"interactive_args"`
}

// Budget bounds every retry loop.
type Budget struct {
	MaxFixAttempts   int    `yaml:"max_fix_attempts" toml:"max_fix_attempts"`
	MaxRemoteRetries int    `yaml:"max_remote_retries" toml:"max_remote_retries"`
	MaxRounds        int    `yaml:"max_rounds" toml:"max_rounds"`
	MaxPushes        int    `yaml:"max_pushes" toml:"max_pushes"`
	MaxPolls         int    `yaml:"max_polls" toml:"max_polls"`
	RemoteTimeout    string `yaml:"remote_timeout" toml:"remote_timeout"`
}

// Poll configures the adaptive poll scheduler.
type Poll struct {
	Floor   string `yaml:"floor" toml:"floor"`
	Step    string `yaml:"step" toml:"step"`
	Ceiling string `yaml:"ceiling" toml:"ceiling"`
	Queued  string `yaml:"queued" toml:"queued"`
	Default string `yaml:"default" toml:"default"`
}

// Remote configures CI run discovery.
type Remote struct {
	Enabled        *bool  `yaml:"enabled" toml:"enabled"`
	Repo           string `yaml:"repo" toml:"repo"`
	PostPushWindow string `yaml:"post_push_window" toml:"post_push_window"`
	FallbackWindow string `yaml:"fallback_window" toml:"fallback_window"`
	DiscoveryDelay string `yaml:"discovery_delay" toml:"discovery_delay"`
}

// PreflightEnabled reports whether the pre-flight scan runs (default true).
func (c *Config) PreflightEnabled() bool {
	return c.Preflight == nil || *c.Preflight
}

// RemoteEnabled reports whether the remote reconciliation loop runs (default true).
func (c *Config) RemoteEnabled() bool {
	return c.Remote.Enabled == nil || *c.Remote.Enabled
}

// AnalyzeEnabled reports whether failures are analysed before fixing (default true).
func (c *Config) AnalyzeEnabled() bool {
	return c.Agent.Analyze == nil || *c.Agent.Analyze
}
