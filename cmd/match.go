package cmd

import (
	"context"

	"github.com/oppfinder/pipeline/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match opportunities against user preferences",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		log := newLogger()

		d := mustSetup(ctx, log, false)
		defer d.close()

		engine := d.matcher()

		if oppID, _ := cmd.Flags().GetInt64("opportunity"); oppID > 0 {
			users, _ := cmd.Flags().GetInt64Slice("users")
			sum, err := engine.MatchOpportunity(ctx, oppID, users)
			if err != nil {
				log.Fatal("matching failed", logger.OpportunityID(oppID), zap.Error(err))
			}
			for _, o := range sum.Outcomes {
				log.Debug("user evaluated",
					logger.UserID(o.UserID),
					zap.Float64("score", o.Score),
					zap.String("justification", o.Justification))
			}
			log.Info("opportunity matched",
				logger.OpportunityID(oppID),
				zap.Int("users", sum.TotalUsers),
				zap.Int("matched", sum.Matched),
				zap.Int("created", sum.Created),
				zap.Int("failed", sum.Failed))
			return
		}

		sum, err := engine.MatchPending(ctx)
		if sum != nil {
			log.Info("matching batch finished",
				zap.Int("processed", sum.Processed),
				zap.Int("created", sum.Created),
				zap.Int("failed", sum.Failed))
		}
		if err != nil {
			log.Fatal("matching batch aborted", zap.Error(err))
		}
	},
}

func init() {
	matchCmd.Flags().Int64("opportunity", 0, "match a single opportunity by id (default is every recent unmatched one)")
	matchCmd.Flags().Int64Slice("users", nil, "restrict matching to these user ids")

	rootCmd.AddCommand(matchCmd)
}
