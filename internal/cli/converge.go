package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/lucasnoah/converge/internal/agent"
	"github.com/lucasnoah/converge/internal/checks"
	"github.com/lucasnoah/converge/internal/config"
	"github.com/lucasnoah/converge/internal/controller"
	"github.com/lucasnoah/converge/internal/db"
	"github.com/lucasnoah/converge/internal/github"
	"github.com/lucasnoah/converge/internal/report"
	"github.com/lucasnoah/converge/internal/style"
	"github.com/lucasnoah/converge/internal/telemetry"
	"github.com/lucasnoah/converge/internal/vcs"
	"github.com/spf13/cobra"
)

// target is one repository with its resolved configuration.
type target struct {
	dir string
	cfg *config.Config
}

func runConverge(cmd *cobra.Command, args []string) error {
	dirs := args
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	crossRepo, _ := cmd.Flags().GetBool("cross-repo")
	if len(dirs) > 1 && !crossRepo {
		return fmt.Errorf("%d directories given; pass --cross-repo to converge several repositories", len(dirs))
	}

	targets := make([]*target, 0, len(dirs))
	for _, dir := range dirs {
		t, err := loadTarget(cmd, dir)
		if err != nil {
			return err
		}
		targets = append(targets, t)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, version)
	if err != nil {
		return err
	}
	defer shutdown(context.Background())

	out := cmd.ErrOrStderr()
	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		return dryRunAll(ctx, cmd, targets)
	}

	store, cleanup, err := openDB(targets[0].cfg.Database)
	if err != nil {
		return err
	}
	defer cleanup()

	byDir := make(map[string]*target, len(targets))
	paths := make([]string, 0, len(targets))
	for _, t := range targets {
		byDir[t.dir] = t
		paths = append(paths, t.dir)
	}

	var mu sync.Mutex
	controllers := make(map[string]*controller.Controller, len(targets))
	build := func(dir string) (*controller.Controller, error) {
		t := byDir[dir]
		label := ""
		if crossRepo {
			label = filepath.Base(dir)
		}
		c := newController(t, store, out, label, !crossRepo)
		mu.Lock()
		controllers[dir] = c
		mu.Unlock()
		return c, nil
	}

	concurrency := targets[0].cfg.Concurrency
	if cmd.Flags().Changed("concurrency") {
		concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if !crossRepo {
		concurrency = 1
	}
	results := controller.RunAll(ctx, paths, concurrency, build)

	p := style.For(out)
	failed := 0
	for _, r := range results {
		fmt.Fprintln(out)
		if c := controllers[r.Dir]; c != nil && c.Report() != nil {
			report.Fprint(out, c.Report())
		}
		if r.Err == nil {
			fmt.Fprintln(out, p.Pass("%s converged", r.Dir))
			continue
		}
		failed++
		fmt.Fprintln(out, p.Fail("%s: %v", r.Dir, r.Err))
	}

	if failed == 0 {
		return nil
	}
	if len(results) == 1 {
		return results[0].Err
	}
	return fmt.Errorf("%d of %d repositories did not converge", failed, len(results))
}

// loadTarget resolves, overrides and validates the configuration for dir.
func loadTarget(cmd *cobra.Command, dir string) (*target, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	cfg, err := loadConfig(abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dir, err)
	}
	applyFlagOverrides(cmd, cfg)

	if errs := config.Validate(cfg); len(errs) > 0 {
		joined := make([]error, 0, len(errs))
		for _, e := range errs {
			joined = append(joined, e)
		}
		return nil, fmt.Errorf("%s: invalid configuration: %w", dir, errors.Join(joined...))
	}
	return &target{dir: abs, cfg: cfg}, nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("max-fix-attempts") {
		cfg.Budget.MaxFixAttempts, _ = flags.GetInt("max-fix-attempts")
	}
	if flags.Changed("max-remote-retries") {
		cfg.Budget.MaxRemoteRetries, _ = flags.GetInt("max-remote-retries")
	}
	if noVerify, _ := flags.GetBool("no-verify"); noVerify {
		cfg.NoVerify = true
	}
	if flags.Changed("preflight") {
		v, _ := flags.GetBool("preflight")
		cfg.Preflight = &v
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency, _ = flags.GetInt("concurrency")
	}
}

// agentOptions builds the adapter options for one repository. Live output
// and the interactive pty fallback both need the terminal to themselves, so
// they are only enabled when a single repository is being converged.
func agentOptions(cfg *config.Config, progress io.Writer, solo bool) []agent.Option {
	opts := []agent.Option{
		agent.WithCommand(cfg.Agent.Command, cfg.Agent.Args...),
		agent.WithTimeout(cfg.AgentTimeout()),
	}
	if !solo {
		return opts
	}
	if cfg.Agent.InteractiveCommand != "" {
		opts = append(opts, agent.WithInteractive(cfg.Agent.InteractiveCommand, cfg.Agent.InteractiveArgs...))
	}
	return append(opts, agent.WithLiveOutput(progress))
}

// newController wires the exec-backed dependencies for one repository.
func newController(t *target, store *db.DB, progress io.Writer, label string, solo bool) *controller.Controller {
	cfg := t.cfg
	agentOpts := agentOptions(cfg, progress, solo)

	deps := controller.Deps{
		Checks: checks.NewRunner(&checks.ExecRunner{}),
		Git:    vcs.New(&vcs.ExecGit{}),
		CI:     github.NewClient(&github.ExecRunner{Dir: t.dir}),
		Agent:  agent.New(t.dir, agentOpts...),
	}
	if store != nil {
		deps.History = store
	}

	c := controller.New(controller.Options{
		Dir:   t.dir,
		Label: label,
		Steps: cfg.Steps(),
		Budget: controller.Budget{
			MaxFixAttempts:   cfg.Budget.MaxFixAttempts,
			MaxRemoteRetries: cfg.Budget.MaxRemoteRetries,
			MaxRounds:        cfg.Budget.MaxRounds,
			MaxPushes:        cfg.Budget.MaxPushes,
			MaxPolls:         cfg.Budget.MaxPolls,
			RemoteTimeout:    cfg.RemoteTimeout(),
		},
		Scheduler:      cfg.Scheduler(),
		Remote:         cfg.RemoteEnabled(),
		Repo:           cfg.Remote.Repo,
		NoVerify:       cfg.NoVerify,
		Preflight:      cfg.PreflightEnabled(),
		Analyze:        cfg.AnalyzeEnabled(),
		PostPushWindow: cfg.PostPushWindow(),
		FallbackWindow: cfg.FallbackWindow(),
		DiscoveryDelay: cfg.DiscoveryDelay(),
	}, deps)
	c.SetProgress(progress)
	return c
}

func dryRunAll(ctx context.Context, cmd *cobra.Command, targets []*target) error {
	w := cmd.OutOrStdout()
	p := style.For(w)
	failing := 0
	for _, t := range targets {
		c := newController(t, nil, cmd.ErrOrStderr(), "", false)
		rep, err := c.DryRun(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", t.dir, err)
		}
		fmt.Fprintln(w, p.Bold(rep.Dir))
		for _, s := range rep.Steps {
			if s.Passed {
				fmt.Fprintln(w, "  "+p.Pass("%-12s %s (%dms)", s.Name, s.Command, s.DurationMs))
				continue
			}
			failing++
			status := fmt.Sprintf("exit %d", s.ExitCode)
			if s.TimedOut {
				status = "timed out"
			}
			fmt.Fprintln(w, "  "+p.Fail("%-12s %s (%s, fingerprint %s)", s.Name, s.Command, status, s.Fingerprint.Short()))
			if s.Summary != "" {
				fmt.Fprintln(w, p.Dim(indent(s.Summary, "      ")))
			}
		}
	}
	if failing > 0 {
		return fmt.Errorf("dry run: %d check(s) failing", failing)
	}
	return nil
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n"+prefix)
}
