package cmd

import (
	"context"

	"github.com/oppfinder/pipeline/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract structured opportunities from pending raw postings",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		log := newLogger()

		d := mustSetup(ctx, log, false)
		defer d.close()

		svc := d.extraction()
		modelName, _ := cmd.Flags().GetString("model")

		if rawID, _ := cmd.Flags().GetInt64("raw"); rawID > 0 {
			res, err := svc.ExtractOne(ctx, rawID, modelName)
			if err != nil {
				log.Fatal("extraction failed", logger.RawID(rawID), zap.Error(err))
			}
			log.Info("extracted",
				logger.RawID(res.RawID),
				logger.OpportunityID(res.OpportunityID),
				zap.Bool("created", res.Created),
				zap.Bool("deduped", res.Deduped))
			return
		}

		limit, _ := cmd.Flags().GetInt("limit")
		sum, err := svc.ExtractPending(ctx, limit, modelName)
		log.Info("extraction batch finished",
			zap.Int("processed", sum.Processed),
			zap.Int("created", sum.Created),
			zap.Int("deduped", sum.Deduped),
			zap.Int("failed", sum.Failed))
		if err != nil {
			log.Fatal("extraction batch aborted", zap.Error(err))
		}
	},
}

func init() {
	extractCmd.Flags().Int64("raw", 0, "extract a single raw opportunity by id")
	extractCmd.Flags().Int("limit", 0, "maximum rows to process (default is processing.batch-size)")
	extractCmd.Flags().String("model", "", "override the provider model")

	rootCmd.AddCommand(extractCmd)
}
