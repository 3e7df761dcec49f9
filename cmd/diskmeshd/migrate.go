package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"diskmesh/internal/repository/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version]",
	Short:     "Manage the database schema",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "version"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := sqlite.New(cfg.Database.Path, sqlite.WithLogger(newLogger(cfg)), sqlite.WithoutMigrate())
		if err != nil {
			return err
		}
		defer store.Close()

		switch args[0] {
		case "up":
			err = store.Migrate()
		case "down":
			err = store.MigrateDown()
		}
		if err != nil {
			return err
		}

		version, dirty, err := store.Version()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
		return nil
	},
}
