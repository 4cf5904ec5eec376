package cli

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/converge/internal/db"
	"github.com/lucasnoah/converge/internal/fingerprint"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [fingerprint]",
	Short: "Show fix history, per fingerprint or for one fingerprint",
	Long: `Without arguments, lists the most recently seen error fingerprints with
their attempt and success counts. With a fingerprint (or a unique prefix),
lists the attempts made on it, newest first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		recent, _ := cmd.Flags().GetBool("recent")
		invocation, _ := cmd.Flags().GetString("invocation")

		d, cleanup, err := openDB("")
		if err != nil {
			return err
		}
		defer cleanup()

		w := cmd.OutOrStdout()
		switch {
		case invocation != "":
			return printInvocation(cmd, d, invocation)
		case len(args) == 1:
			fp, err := resolveFingerprint(d, args[0])
			if err != nil {
				return err
			}
			attempts, err := d.FixAttempts(fp, limit)
			if err != nil {
				return err
			}
			printAttempts(cmd, attempts)
		case recent:
			attempts, err := d.RecentFixAttempts(limit)
			if err != nil {
				return err
			}
			printAttempts(cmd, attempts)
		default:
			stats, err := d.FingerprintStats(limit)
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				fmt.Fprintln(w, "No fix attempts recorded.")
				return nil
			}
			fmt.Fprintf(w, "%-12s %-20s %-8s %-6s %s\n", "FINGERPRINT", "TARGET", "ATTEMPTS", "FIXED", "LAST SEEN")
			fmt.Fprintf(w, "%s\n", strings.Repeat("-", 80))
			for _, s := range stats {
				fmt.Fprintf(w, "%-12s %-20s %-8d %-6d %s\n",
					fingerprint.Hash(s.Fingerprint).Short(), clipCell(s.Target, 20), s.Attempts, s.Successes, s.LastSeen)
			}
		}
		return nil
	},
}

func printAttempts(cmd *cobra.Command, attempts []db.FixAttempt) {
	w := cmd.OutOrStdout()
	if len(attempts) == 0 {
		fmt.Fprintln(w, "No fix attempts recorded.")
		return
	}
	fmt.Fprintf(w, "%-24s %-12s %-8s %-15s %-3s %-6s %s\n", "TIME", "FINGERPRINT", "PHASE", "TARGET", "ATT", "RESULT", "STRATEGY")
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 100))
	for _, a := range attempts {
		result := "FAIL"
		if a.Succeeded {
			result = "FIXED"
		}
		fmt.Fprintf(w, "%-24s %-12s %-8s %-15s %-3d %-6s %s\n",
			a.Timestamp, fingerprint.Hash(a.Fingerprint).Short(), a.Phase, clipCell(a.Target, 15), a.Attempt, result, a.Strategy)
		if a.RootCause != "" {
			fmt.Fprintf(w, "%24s cause: %s\n", "", a.RootCause)
		}
	}
}

// printInvocation lists the check runs and controller events of one run.
func printInvocation(cmd *cobra.Command, d *db.DB, id string) error {
	runs, err := d.CheckRuns(id)
	if err != nil {
		return err
	}
	events, err := d.Events(id)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(runs) == 0 && len(events) == 0 {
		fmt.Fprintf(w, "No records for invocation %s.\n", id)
		return nil
	}

	fmt.Fprintf(w, "%-5s %-15s %-6s %-5s %-8s %s\n", "ROUND", "CHECK", "RESULT", "EXIT", "DURATION", "FINGERPRINT")
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 60))
	for _, r := range runs {
		result := "FAIL"
		if r.Passed {
			result = "PASS"
		}
		fmt.Fprintf(w, "%-5d %-15s %-6s %-5d %-8s %s\n",
			r.Round, clipCell(r.CheckName, 15), result, r.ExitCode, fmt.Sprintf("%dms", r.DurationMs), fingerprint.Hash(r.Fingerprint).Short())
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-24s %-10s %-22s %s\n", "TIME", "PHASE", "EVENT", "DETAIL")
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 80))
	for _, e := range events {
		fmt.Fprintf(w, "%-24s %-10s %-22s %s\n", e.Timestamp, e.Phase, e.Event, e.Detail)
	}
	return nil
}

// resolveFingerprint expands a short fingerprint to the stored one.
func resolveFingerprint(d *db.DB, arg string) (string, error) {
	stats, err := d.FingerprintStats(10000)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, s := range stats {
		if s.Fingerprint == arg {
			return arg, nil
		}
		if strings.HasPrefix(s.Fingerprint, arg) {
			matches = append(matches, s.Fingerprint)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no fix history for fingerprint %q", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("fingerprint prefix %q is ambiguous (%d matches)", arg, len(matches))
	}
}

func clipCell(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum rows to show")
	historyCmd.Flags().Bool("recent", false, "list the newest attempts across all fingerprints")
	historyCmd.Flags().String("invocation", "", "show the check runs and events of one invocation")
}
