package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/credops/credops/internal/config"
	"github.com/credops/credops/internal/store"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long: `Apply the schema for all persisted entities: accounts, templates,
gathered accounts, risks, automation records and executions.

The migration is additive and safe to re-run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(cfg)
			if err != nil {
				return err
			}

			db, err := openDatabase(def)
			if err != nil {
				return err
			}

			cfg.Logger.Info("Applying schema migrations...")
			if err := store.Migrate(db); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			cfg.Logger.Info("✓ Schema is up to date")
			return nil
		},
	}
	return cmd
}
