package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		logger := newLogger()

		d := mustSetup(ctx, logger, false)
		defer d.close()

		if err := d.store.Migrate(ctx); err != nil {
			logger.Fatal("migrating the database", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
