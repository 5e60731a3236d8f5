package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oppfinder/pipeline/internal/model"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Move raw postings in a given status back to NEW so they are extracted again",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := context.Background()
		logger := newLogger()

		statusFlag, _ := cmd.Flags().GetString("status")
		status := model.RawStatus(strings.ToUpper(strings.TrimSpace(statusFlag)))
		if status != model.RawFailed && status != model.RawExtracted && status != model.RawProcessing {
			logger.Fatal("status must be FAILED, EXTRACTED or PROCESSING", zap.String("status", statusFlag))
		}

		d := mustSetup(ctx, logger, false)
		defer d.close()

		count, err := d.store.CountRawByStatus(ctx, status)
		if err != nil {
			logger.Fatal("counting raw opportunities", zap.Error(err))
		}
		if count == 0 {
			logger.Info("exiting", zap.String("reason", "nothing to reprocess"))
			return
		}

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			prompt := promptui.Prompt{
				Label:     fmt.Sprintf("Reset %d %s raw opportunities to NEW", count, status),
				IsConfirm: true,
			}
			if _, err := prompt.Run(); err != nil {
				if errors.Is(err, promptui.ErrAbort) {
					logger.Info("exiting", zap.String("reason", "got no from prompt"))
					return
				}
				logger.Fatal("exiting", zap.Error(err))
			}
		}

		ids, err := d.store.ResetRawStatus(ctx, status)
		if err != nil {
			logger.Fatal("resetting raw opportunities", zap.Error(err))
		}

		if q := d.taskQueue(); q != nil {
			for _, id := range ids {
				if err := q.EnqueueExtract(ctx, id); err != nil {
					logger.Warn("failed to enqueue extraction", zap.Int64("raw_id", id), zap.Error(err))
				}
			}
		}
		logger.Info("raw opportunities reset", zap.Int("count", len(ids)), zap.String("from", string(status)))
	},
}

func init() {
	reprocessCmd.Flags().String("status", string(model.RawFailed), "status to reset")
	reprocessCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	rootCmd.AddCommand(reprocessCmd)
}
