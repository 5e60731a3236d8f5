package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/oppfinder/pipeline/internal/logger"
	"github.com/oppfinder/pipeline/internal/matching"
	"github.com/oppfinder/pipeline/internal/queue"
	"github.com/oppfinder/pipeline/internal/scheduler"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued tasks and run the periodic jobs until interrupted",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		log := newLogger()

		d := mustSetup(ctx, log, true)
		defer d.close()

		q := d.taskQueue()
		handlers := taskHandlers(d, log)

		if noSchedule, _ := cmd.Flags().GetBool("no-schedule"); !noSchedule {
			sched := scheduler.New(log)
			for _, job := range periodicJobs(d, q) {
				if job.Spec == "" {
					log.Info("job disabled", zap.String("job", job.Name))
					continue
				}
				if err := sched.Add(job); err != nil {
					log.Fatal("registering job", zap.Error(err))
				}
			}
			if err := sched.Start(ctx); err != nil {
				log.Fatal("starting scheduler", zap.Error(err))
			}
			defer sched.Stop()
		}

		w := queue.NewWorker(d.queueBackend(), handlers, queue.WorkerConfig{
			PollInterval: d.cfg.Worker.PollInterval,
			MaxAttempts:  d.cfg.Worker.MaxAttempts,
		}, queue.WithWorkerLogger(log))

		log.Info("starting the oppfinder worker", zap.String("version", version))
		if err := w.Run(ctx); err != nil {
			log.Fatal("worker stopped", zap.Error(err))
		}
	},
}

func taskHandlers(d *deps, log *zap.Logger) map[queue.Kind]queue.Handler {
	svc := d.extraction()
	engine := d.matcher()
	runner := d.runner()

	return map[queue.Kind]queue.Handler{
		queue.KindExtract: func(ctx context.Context, t queue.Task) error {
			_, err := svc.ExtractOne(ctx, t.SubjectID, "")
			return err
		},
		queue.KindMatch: func(ctx context.Context, t queue.Task) error {
			_, err := engine.MatchOpportunity(ctx, t.SubjectID, nil)
			if errors.Is(err, matching.ErrOpportunityNotFound) {
				log.Info("skipping match task", logger.OpportunityID(t.SubjectID), zap.Error(err))
				return nil
			}
			return err
		},
		// failed runs are recorded on the source and retried on its next poll
		queue.KindIngest: func(ctx context.Context, t queue.Task) error {
			if _, err := runner.RunSourceID(ctx, t.SubjectID); err != nil && ctx.Err() == nil {
				log.Warn("ingest task failed", zap.Int64("source_id", t.SubjectID), zap.Error(err))
			}
			return ctx.Err()
		},
	}
}

func periodicJobs(d *deps, q *queue.Queue) []scheduler.Job {
	s := d.cfg.Worker.Schedule
	return []scheduler.Job{
		{
			Name: "ingest-due",
			Spec: s.Ingest,
			Run: func(ctx context.Context) error {
				due, err := d.runner().DueSources(ctx)
				if err != nil {
					return err
				}
				for _, src := range due {
					if err := q.EnqueueIngest(ctx, src.ID); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Name: "extract-pending",
			Spec: s.Extract,
			Run: func(ctx context.Context) error {
				ids, err := d.store.PendingRawIDs(ctx, d.cfg.Processing.BatchSize)
				if err != nil {
					return err
				}
				for _, id := range ids {
					if err := q.EnqueueExtract(ctx, id); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Name: "match-pending",
			Spec: s.Match,
			Run: func(ctx context.Context) error {
				_, err := d.matcher().MatchPending(ctx)
				return err
			},
		},
	}
}

func init() {
	workerCmd.Flags().Bool("no-schedule", false, "only process queued tasks, do not run periodic jobs")

	rootCmd.AddCommand(workerCmd)
}
