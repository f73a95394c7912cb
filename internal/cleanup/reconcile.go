package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/queue"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// InterruptedReason is recorded on tasks that were running when the previous
// process stopped.
const InterruptedReason = "interrupted by restart"

// Requeuer puts persisted pending tasks back on the work queue.
type Requeuer interface {
	Requeue(ctx context.Context, id string) error
}

// ReconcileResult counts what Reconcile changed.
type ReconcileResult struct {
	Failed   int
	Requeued int
}

// Reconcile repairs state after a restart. Tasks left in fetching or
// transcribing have no worker any more and become failed; pending tasks are
// queued again oldest first. stats may be nil.
func Reconcile(ctx context.Context, store queue.TaskStore, sched Requeuer, stats queue.StatsRecorder, logger *zap.Logger) (ReconcileResult, error) {
	var result ReconcileResult
	if logger == nil {
		logger = zap.NewNop()
	}
	agg := queue.NewAggregator(stats, logger)

	orphaned, err := store.List(ctx, task.Filter{
		Statuses:  []task.Status{task.StatusFetching, task.StatusTranscribing},
		Ascending: true,
	})
	if err != nil {
		return result, fmt.Errorf("list running tasks: %w", err)
	}
	now := time.Now().UTC()
	for _, rec := range orphaned {
		rec.ErrorMessage = InterruptedReason
		if err := rec.Transition(task.StatusFailed, now); err != nil {
			logger.Warn("cannot fail orphaned task", zap.String("task_id", rec.ID), zap.Error(err))
			continue
		}
		if err := store.Save(ctx, rec); err != nil {
			return result, fmt.Errorf("save orphaned task %s: %w", rec.ID, err)
		}
		agg.Finished(ctx, rec)
		result.Failed++
		logger.Warn("task interrupted by restart",
			zap.String("task_id", rec.ID),
			zap.String("stage", rec.Stage),
		)
	}

	pending, err := store.List(ctx, task.Filter{
		Statuses:  []task.Status{task.StatusPending},
		Ascending: true,
	})
	if err != nil {
		return result, fmt.Errorf("list pending tasks: %w", err)
	}
	for _, rec := range pending {
		if err := sched.Requeue(ctx, rec.ID); err != nil {
			if errors.Is(err, task.ErrShuttingDown) {
				return result, err
			}
			logger.Warn("requeue failed", zap.String("task_id", rec.ID), zap.Error(err))
			continue
		}
		result.Requeued++
	}

	if result.Failed > 0 || result.Requeued > 0 {
		logger.Info("reconciled tasks from previous run",
			zap.Int("failed", result.Failed),
			zap.Int("requeued", result.Requeued),
		)
	}
	return result, nil
}
