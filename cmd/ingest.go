package cmd

import (
	"context"

	"github.com/oppfinder/pipeline/internal/ingestion"
	"github.com/oppfinder/pipeline/internal/model"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch new postings from the configured sources",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		logger := newLogger()

		d := mustSetup(ctx, logger, false)
		defer d.close()

		runner := d.runner()
		sourceID, _ := cmd.Flags().GetInt64("source")
		typeFlag, _ := cmd.Flags().GetString("type")
		dueOnly, _ := cmd.Flags().GetBool("due")

		var (
			results []ingestion.RunResult
			err     error
		)
		switch {
		case sourceID > 0:
			var res ingestion.RunResult
			res, err = runner.RunSourceID(ctx, sourceID)
			results = append(results, res)
		case dueOnly:
			results, err = runner.RunDue(ctx)
		default:
			var typ model.SourceType
			if typeFlag != "" {
				if typ, err = model.ParseSourceType(typeFlag); err != nil {
					logger.Fatal("invalid source type", zap.Error(err))
				}
			}
			results, err = runner.RunAll(ctx, typ)
		}

		created, failed := 0, 0
		for _, r := range results {
			created += r.Created
			if r.Err != nil {
				failed++
			}
		}
		logger.Info("ingestion finished",
			zap.Int("sources", len(results)),
			zap.Int("created", created),
			zap.Int("failed_sources", failed))
		if err != nil {
			logger.Fatal("ingestion failed", zap.Error(err))
		}
	},
}

var addSourceCmd = &cobra.Command{
	Use:   "add-source <type> <identifier>",
	Short: "Register a source (RSS feed URL or Telegram channel) or update an existing one",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		logger := newLogger()

		typ, err := model.ParseSourceType(args[0])
		if err != nil {
			logger.Fatal("invalid source type", zap.Error(err))
		}
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = args[1]
		}
		interval, _ := cmd.Flags().GetInt("interval")
		disabled, _ := cmd.Flags().GetBool("disabled")

		d := mustSetup(ctx, logger, false)
		defer d.close()

		src := &model.Source{
			Type:                typ,
			Name:                name,
			Identifier:          args[1],
			Enabled:             !disabled,
			PollIntervalMinutes: interval,
		}
		if err := d.store.UpsertSource(ctx, src); err != nil {
			logger.Fatal("saving source", zap.Error(err))
		}
		logger.Info("source saved", zap.Int64("id", src.ID), zap.String("type", string(typ)), zap.String("name", name))
	},
}

func init() {
	ingestCmd.Flags().Int64("source", 0, "ingest a single source by id")
	ingestCmd.Flags().String("type", "", "ingest only sources of this type (rss, telegram)")
	ingestCmd.Flags().Bool("due", false, "ingest only sources whose poll interval elapsed")

	addSourceCmd.Flags().String("name", "", "display name (default is the identifier)")
	addSourceCmd.Flags().Int("interval", 60, "poll interval in minutes")
	addSourceCmd.Flags().Bool("disabled", false, "register the source disabled")

	ingestCmd.AddCommand(addSourceCmd)
	rootCmd.AddCommand(ingestCmd)
}
