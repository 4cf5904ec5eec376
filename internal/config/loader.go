package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied to unset fields.
const (
	DefaultMaxFixAttempts   = 3
	DefaultMaxRemoteRetries = 3
	DefaultMaxRounds        = 10
	DefaultMaxPushes        = 5
	DefaultMaxPolls         = 120
	DefaultRemoteTimeout    = "60m"
	DefaultConcurrency      = 2
	DefaultAgentTimeout     = "15m"
	DefaultPostPushWindow   = "2m"
	DefaultFallbackWindow   = "10m"
	DefaultDiscoveryDelay   = "15s"
)

// Load reads a configuration file. Files ending in .toml are parsed as TOML,
// anything else as YAML. Defaults are applied after parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config TOML: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	cfg.Source = path
	applyDefaults(&cfg)
	return &cfg, nil
}

// Candidates lists the config files LoadDefault looks for, in order.
func Candidates(dir string) []string {
	paths := []string{
		filepath.Join(dir, "converge.yaml"),
		filepath.Join(dir, "converge.yml"),
		filepath.Join(dir, "converge.toml"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".converge", "config.yaml"))
	}
	return paths
}

// LoadDefault loads the first config file found for the repository in dir.
// Without one, checks are detected from the repository contents.
func LoadDefault(dir string) (*Config, error) {
	for _, path := range Candidates(dir) {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			if err != nil {
				return nil, err
			}
			cfg.EnsureChecks(dir)
			return cfg, nil
		}
	}

	cfg := &Config{Checks: Detect(dir)}
	applyDefaults(cfg)
	return cfg, nil
}

// EnsureChecks fills an empty check list by detecting checks in dir.
func (c *Config) EnsureChecks(dir string) {
	if len(c.Checks) == 0 {
		c.Checks = Detect(dir)
	}
}

func applyDefaults(cfg *Config) {
	b := &cfg.Budget
	if b.MaxFixAttempts == 0 {
		b.MaxFixAttempts = DefaultMaxFixAttempts
	}
	if b.MaxRemoteRetries == 0 {
		b.MaxRemoteRetries = DefaultMaxRemoteRetries
	}
	if b.MaxRounds == 0 {
		b.MaxRounds = DefaultMaxRounds
	}
	if b.MaxPushes == 0 {
		b.MaxPushes = DefaultMaxPushes
	}
	if b.MaxPolls == 0 {
		b.MaxPolls = DefaultMaxPolls
	}
	if b.RemoteTimeout == "" {
		b.RemoteTimeout = DefaultRemoteTimeout
	}

	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	a := &cfg.Agent
	if a.Command == "" {
		a.Command = "claude"
		if len(a.Args) == 0 {
			a.Args = []string{"--print", "--dangerously-skip-permissions"}
		}
	}
	if a.Timeout == "" {
		a.Timeout = DefaultAgentTimeout
	}

	r := &cfg.Remote
	if r.PostPushWindow == "" {
		r.PostPushWindow = DefaultPostPushWindow
	}
	if r.FallbackWindow == "" {
		r.FallbackWindow = DefaultFallbackWindow
	}
	if r.DiscoveryDelay == "" {
		r.DiscoveryDelay = DefaultDiscoveryDelay
	}
}

// Duration parses a duration field, returning def when s is empty.
func Duration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d, nil
}

// mustDuration is Duration for fields Validate has already checked.
func mustDuration(s string, def time.Duration) time.Duration {
	d, err := Duration(s, def)
	if err != nil {
		return def
	}
	return d
}
