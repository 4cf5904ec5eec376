package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configPath   string
	databaseFlag string
)

var rootCmd = &cobra.Command{
	Use:   "converge [dir...]",
	Short: "converge — drive a repository to green locally and in CI",
	Long: `converge runs a repository's checks in order, hands the first failure to a
remediation agent, re-runs from the top until every check passes, then
pushes and watches CI, fixing failed jobs until the pushed commit is green.

Checks come from converge.yaml or converge.toml in the repository, or are
detected from go.mod, package.json and Makefile. Fix history is kept in
~/.converge/converge.db (or the --database DSN). Exit code is 0 only when
every repository converged.`,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runConverge,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: converge.yaml, converge.toml or ~/.converge/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&databaseFlag, "database", "", "history database: a SQLite path or postgres:// DSN")

	rootCmd.Flags().Bool("cross-repo", false, "converge several repositories concurrently")
	rootCmd.Flags().Int("max-fix-attempts", 0, "agent attempts per failing check (overrides config)")
	rootCmd.Flags().Int("max-remote-retries", 0, "CI failure retries per commit (overrides config)")
	rootCmd.Flags().Bool("dry-run", false, "run each check once and report, without fixing")
	rootCmd.Flags().Bool("no-verify", false, "skip git hooks on commit and push")
	rootCmd.Flags().Bool("preflight", true, "verify git, gh auth and the agent before starting")
	rootCmd.Flags().Int("concurrency", 0, "repositories converged at once in cross-repo mode (overrides config)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(restoreCmd)
}
