package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// Aggregator turns lifecycle points into additive statistics rows keyed by
// UTC day and model selector.
type Aggregator struct {
	recorder StatsRecorder
	logger   *zap.Logger
}

// NewAggregator returns an aggregator writing through recorder. A nil
// recorder disables statistics.
func NewAggregator(recorder StatsRecorder, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{recorder: recorder, logger: logger}
}

// Created counts a newly submitted task.
func (a *Aggregator) Created(ctx context.Context, rec *task.Record) {
	a.add(ctx, task.StatsDelta{Day: rec.CreatedAt, Model: rec.ModelSelector, Created: 1})
}

// Finished counts a terminal transition. Successful tasks also contribute
// processing time, media duration and result size.
func (a *Aggregator) Finished(ctx context.Context, rec *task.Record) {
	day := rec.UpdatedAt
	if rec.CompletedAt != nil {
		day = *rec.CompletedAt
	}
	delta := task.StatsDelta{Day: day, Model: rec.ModelSelector}
	switch rec.Status {
	case task.StatusCompleted:
		delta.Completed = 1
		delta.ProcessingSeconds = rec.ProcessingTime().Seconds()
		delta.MediaSeconds = rec.MediaDuration
		delta.ResultBytes = rec.ResultBytes
	case task.StatusFailed:
		delta.Failed = 1
	case task.StatusCancelled:
		delta.Cancelled = 1
	default:
		return
	}
	a.add(ctx, delta)
}

func (a *Aggregator) add(ctx context.Context, delta task.StatsDelta) {
	if a == nil || a.recorder == nil {
		return
	}
	if delta.Day.IsZero() {
		delta.Day = time.Now()
	}
	delta.Day = delta.Day.UTC()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.recorder.AddStats(ctx, delta); err != nil {
		a.logger.Warn("record statistics failed",
			zap.String("model", delta.Model),
			zap.Error(err),
		)
	}
}
