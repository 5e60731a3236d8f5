package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize recorded AI calls per provider",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		logger := newLogger()

		d := mustSetup(ctx, logger, false)
		defer d.close()

		hours, _ := cmd.Flags().GetInt("hours")
		summary, err := d.store.UsageByProvider(ctx, hours)
		if err != nil {
			logger.Fatal("loading usage", zap.Error(err))
		}
		if len(summary) == 0 {
			logger.Info("no AI calls recorded", zap.Int("hours", hours))
			return
		}
		for _, u := range summary {
			logger.Info("provider usage",
				zap.String("provider", u.Provider),
				zap.Int64("calls", u.Calls),
				zap.Int64("failures", u.Failures),
				zap.Int("hours", hours))
		}
	},
}

func init() {
	usageCmd.Flags().Int("hours", 24, "look back this many hours")

	rootCmd.AddCommand(usageCmd)
}
