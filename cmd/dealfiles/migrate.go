package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dealfiles/internal/config"
	"dealfiles/internal/store"
)

func newMigrateCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	var inspect bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run or inspect SQLite catalog migrations",
		Long:  "Run or inspect SQLite catalog migrations. The postgres catalog migrates itself when the server starts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Catalog.Driver == config.CatalogDriverPostgres {
				return fmt.Errorf("migrate only applies to the sqlite catalog; the postgres catalog migrates on srv start")
			}
			if cfg.DBPath == "" {
				return fmt.Errorf("db path is required")
			}

			if !inspect {
				st, err := store.Open(cfg.DBPath)
				if err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				if err := st.Close(); err != nil {
					return err
				}
			}

			db, err := store.OpenRaw(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			plan, err := store.MigrationPlan(db)
			if err != nil {
				return fmt.Errorf("inspect migrations: %w", err)
			}

			return out.emit(plan, func() error {
				if err := writePlain("Current version: %d\nAvailable version: %d\n", plan.CurrentVersion, plan.AvailableVersion); err != nil {
					return err
				}
				if len(plan.Pending) == 0 {
					return writePlain("No pending migrations.\n")
				}
				if err := writePlain("Pending migrations: %d\n", len(plan.Pending)); err != nil {
					return err
				}
				for _, m := range plan.Pending {
					if err := writePlain("  %d: %s\n", m.Version, m.Description); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&inspect, "inspect", false, "show migration status without applying")
	cmd.Flags().BoolVar(&inspect, "dry-run", false, "alias for --inspect")
	return cmd
}
