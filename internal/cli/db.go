package cli

import (
	"fmt"

	"github.com/lucasnoah/converge/internal/db"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "History database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB("")
		if err != nil {
			return err
		}
		defer cleanup()
		fmt.Fprintf(cmd.OutOrStdout(), "Database migrated (%s).\n", d.Dialect())
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop and recreate all tables (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			return fmt.Errorf("db reset deletes all fix history; pass --force to confirm")
		}
		d, cleanup, err := openDB("")
		if err != nil {
			return err
		}
		defer cleanup()
		if err := d.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Database reset.")
		return nil
	},
}

// openDB opens and migrates the history database. The --database flag wins
// over fallback, which wins over ~/.converge/converge.db.
func openDB(fallback string) (*db.DB, func(), error) {
	dsn := databaseFlag
	if dsn == "" {
		dsn = fallback
	}
	if dsn == "" {
		path, err := db.DefaultDBPath()
		if err != nil {
			return nil, nil, err
		}
		dsn = path
	}
	d, err := db.Open(dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}

func init() {
	dbResetCmd.Flags().Bool("force", false, "confirm the reset")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
