package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucasnoah/converge/internal/report"
	"github.com/lucasnoah/converge/internal/vcs"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [dir]",
	Short: "Show the last converge outcome recorded for a repository",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		git := vcs.New(&vcs.ExecGit{})
		gitDir, err := git.GitDir(cmd.Context(), dirArg(args))
		if err != nil {
			return err
		}
		s, err := report.Load(gitDir)
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(cmd.OutOrStdout(), "No converge run recorded (%s).\n", report.Path(gitDir))
			return nil
		}
		if err != nil {
			return err
		}
		report.Fprint(cmd.OutOrStdout(), s)
		fmt.Fprintf(cmd.OutOrStdout(), "updated:   %s\n", s.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot-ref> [dir]",
	Short: "Reset the working tree to a snapshot taken before a fix attempt",
	Long: `Every fix attempt records the working tree under ` + vcs.SnapshotRefPrefix + `<label>
before the agent runs. restore checks that snapshot out over the working tree,
leaving HEAD and the branch where they are. A bare label is expanded to the
full ref.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := args[0]
		if filepath.Dir(ref) == "." {
			ref = vcs.SnapshotRefPrefix + ref
		}
		dir := "."
		if len(args) == 2 {
			dir = args[1]
		}
		if err := vcs.New(&vcs.ExecGit{}).Restore(cmd.Context(), dir, ref); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Restored %s.\n", ref)
		return nil
	},
}
