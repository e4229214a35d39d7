package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/farstore/registry-sync/internal/app"
	"github.com/farstore/registry-sync/internal/config"
	"github.com/farstore/registry-sync/internal/platform/migrations"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := rootOpts.load()
			if err != nil {
				return err
			}
			if cfg.Database.Driver == config.DriverMemory {
				return fmt.Errorf("the memory driver has no schema to migrate")
			}

			db, err := app.OpenDatabase(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrations.Apply(db, cfg.Database.Driver); err != nil {
				return err
			}
			version, dirty, err := migrations.Version(db, cfg.Database.Driver)
			if err != nil {
				return err
			}
			p := NewPrinter(rootOpts.out())
			if dirty {
				p.Warning(fmt.Sprintf("schema at version %d is dirty", version))
				return nil
			}
			p.Success(fmt.Sprintf("schema at version %d", version))
			return nil
		},
	}
}
