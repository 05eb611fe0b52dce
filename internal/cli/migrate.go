package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"smsalert/internal/db"
)

func NewMigrateCommand(root *RootOptions) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run the Postgres migrations",
		Long:  "Applies the embedded migrations all the way up (or down with --down). Only the default phone_numbers table is managed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if cfg.TableName != db.DefaultTable {
				return fmt.Errorf("migrations only manage table %q, but DB_TABLE_NAME is %q; create that table by hand", db.DefaultTable, cfg.TableName)
			}

			handler, err := db.NewMigrationHandler(cfg.PgConfig, root.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := handler.Close(); err != nil {
					root.logger.WithError(err).Warn("Failed to close migration handler")
				}
			}()

			if down {
				return handler.Down()
			}
			return handler.Up()
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "roll every migration back")

	return cmd
}
