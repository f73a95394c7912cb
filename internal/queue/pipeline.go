package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/events"
	"github.com/codebuildervaibhav/mediascribe/internal/logging"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// ErrAborted is returned by Pipeline.Run when the worker context ended
// without a cancellation request, i.e. the engine is being torn down. The
// record keeps its last persisted status.
var ErrAborted = errors.New("pipeline aborted")

var errAbandoned = errors.New("stage abandoned")

// Pipeline runs a task through its ordered stages and owns every state
// transition of that task while it runs.
type Pipeline struct {
	stages   []StageExecutor
	store    TaskStore
	events   *events.Broadcaster
	registry *CancellationRegistry
	remover  ArtifactRemover
	stats    *Aggregator
	logger   *zap.Logger
	now      func() time.Time

	persistAttempts int
	persistBackoff  time.Duration
	storeTimeout    time.Duration
	progressBucket  float64
}

type progressUpdate struct {
	percent float64
	message string
}

type stageOutcome struct {
	res StageResult
	err error
}

// progressBand is the slice of overall progress owned by one stage.
type progressBand struct {
	low, high float64
	last      bool
}

func stageBand(i, n int) progressBand {
	return progressBand{
		low:  float64(i) * 100 / float64(n),
		high: float64(i+1) * 100 / float64(n),
		last: i == n-1,
	}
}

// scale maps stage-local percent onto the band. Only the last stage may
// reach the band's upper edge.
func (b progressBand) scale(percent float64) float64 {
	percent = math.Max(0, math.Min(100, percent))
	v := b.low + (b.high-b.low)*percent/100
	if !b.last && v >= b.high {
		v = math.Nextafter(b.high, b.low)
	}
	return v
}

// Run drives rec from pending through every stage to a terminal status.
// It returns nil once the task is terminal (or was forced to failed) and
// ErrAborted when ctx ended without a cancellation request.
func (p *Pipeline) Run(ctx context.Context, rec *task.Record) error {
	sampler := logging.NewProgressSampler(p.progressBucket)
	for i, stage := range p.stages {
		if p.registry.IsRequested(rec.ID) {
			p.cancel(ctx, rec)
			return nil
		}
		if ctx.Err() != nil {
			return ErrAborted
		}

		band := stageBand(i, len(p.stages))
		if !p.enter(ctx, rec, stage, band.low) {
			return nil
		}
		sampler.Reset()

		res, err := p.execute(ctx, rec, stage, band, sampler)
		if p.registry.IsRequested(rec.ID) {
			p.discard(res.Artifacts)
			p.cancel(ctx, rec)
			return nil
		}
		if ctx.Err() != nil {
			p.discard(res.Artifacts)
			return ErrAborted
		}
		if err != nil {
			p.discard(res.Artifacts)
			p.fail(ctx, rec, err)
			return nil
		}
		if res.Apply != nil {
			res.Apply(rec)
		}
	}
	p.complete(ctx, rec)
	return nil
}

func (p *Pipeline) enter(ctx context.Context, rec *task.Record, stage StageExecutor, progress float64) bool {
	if rec.Status != stage.Status() {
		if err := rec.Transition(stage.Status(), p.now()); err != nil {
			p.forceFail(ctx, rec, err.Error())
			return false
		}
	}
	rec.Stage = stage.Label()
	rec.SetProgress(progress)
	if !p.persist(ctx, rec) {
		return false
	}
	p.logger.Info("task stage started",
		zap.String("task_id", rec.ID),
		zap.String("stage", stage.Name()),
	)
	p.publish(rec, events.TypeTaskUpdate)
	return true
}

// execute runs the stage on its own goroutine so the worker can stop
// waiting when the task is cancelled or the engine aborts. Progress updates
// are funnelled back to this goroutine, which is the only writer of rec.
func (p *Pipeline) execute(ctx context.Context, rec *task.Record, stage StageExecutor, band progressBand, sampler *logging.ProgressSampler) (StageResult, error) {
	updates := make(chan progressUpdate, 32)
	done := make(chan stageOutcome, 1)
	snapshot := rec.Clone()

	go func() {
		var out stageOutcome
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("stage panicked",
					zap.String("task_id", snapshot.ID),
					zap.String("stage", stage.Name()),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				out = stageOutcome{err: fmt.Errorf("%s stage panicked: %v", stage.Name(), r)}
			}
			done <- out
		}()
		out.res, out.err = stage.Execute(task.WithID(ctx, snapshot.ID), snapshot, func(percent float64, message string) {
			select {
			case updates <- progressUpdate{percent: percent, message: message}:
			default:
			}
		})
	}()

	for {
		select {
		case u := <-updates:
			if p.registry.IsRequested(rec.ID) {
				go p.reap(rec.ID, stage, done)
				return StageResult{}, errAbandoned
			}
			p.progress(ctx, rec, band.scale(u.percent), u.message, sampler)
		case out := <-done:
			return out.res, out.err
		case <-ctx.Done():
			go p.reap(rec.ID, stage, done)
			return StageResult{}, errAbandoned
		}
	}
}

// reap waits for an abandoned stage and releases whatever it produced.
func (p *Pipeline) reap(taskID string, stage StageExecutor, done <-chan stageOutcome) {
	out := <-done
	if len(out.res.Artifacts) == 0 {
		return
	}
	p.logger.Info("releasing late stage output",
		zap.String("task_id", taskID),
		zap.String("stage", stage.Name()),
		zap.Strings("artifacts", out.res.Artifacts),
	)
	p.discard(out.res.Artifacts)
}

func (p *Pipeline) progress(ctx context.Context, rec *task.Record, percent float64, message string, sampler *logging.ProgressSampler) {
	changed := rec.SetProgress(percent)
	if message != "" && message != rec.Stage {
		rec.Stage = message
		changed = true
	}
	if !changed {
		return
	}
	rec.UpdatedAt = p.now()
	p.publish(rec, events.TypeTaskUpdate)
	if sampler.Sample(rec.Progress, rec.Stage) {
		if err := p.saveOnce(ctx, rec); err != nil {
			p.logger.Warn("persist progress failed",
				zap.String("task_id", rec.ID),
				zap.Float64("progress", rec.Progress),
				zap.Error(err),
			)
		}
	}
}

func (p *Pipeline) complete(ctx context.Context, rec *task.Record) {
	if rec.ResultArtifactRef == "" {
		p.fail(ctx, rec, errors.New("pipeline produced no result"))
		return
	}
	if !rec.Options.KeepMedia() && rec.MediaArtifactRef != "" {
		p.remove(rec.MediaArtifactRef)
		rec.MediaArtifactRef = ""
	}
	if err := rec.Transition(task.StatusCompleted, p.now()); err != nil {
		p.forceFail(ctx, rec, err.Error())
		return
	}
	rec.SetProgress(100)
	rec.Stage = "completed"
	if p.persist(ctx, rec) {
		p.settle(ctx, rec)
	}
}

func (p *Pipeline) fail(ctx context.Context, rec *task.Record, cause error) {
	if !rec.Options.KeepMedia() && rec.MediaArtifactRef != "" {
		p.remove(rec.MediaArtifactRef)
		rec.MediaArtifactRef = ""
	}
	msg := task.ErrorMessage(cause)
	if err := rec.Transition(task.StatusFailed, p.now()); err != nil {
		p.forceFail(ctx, rec, msg)
		return
	}
	rec.ErrorMessage = msg
	rec.Stage = "failed"
	if p.persist(ctx, rec) {
		p.settle(ctx, rec)
	}
}

func (p *Pipeline) cancel(ctx context.Context, rec *task.Record) {
	if rec.Status == task.StatusFetching || !rec.Options.KeepMedia() {
		p.remove(rec.MediaArtifactRef)
		rec.MediaArtifactRef = ""
	}
	if err := rec.Transition(task.StatusCancelled, p.now()); err != nil {
		p.logger.Warn("cancel transition rejected", zap.String("task_id", rec.ID), zap.Error(err))
		p.registry.Forget(rec.ID)
		return
	}
	rec.Stage = "cancelled"
	if p.persist(ctx, rec) {
		p.settle(ctx, rec)
	}
}

// recoverPanic fails a task whose run panicked outside a stage.
func (p *Pipeline) recoverPanic(ctx context.Context, rec *task.Record, r any) {
	if rec.Status.IsTerminal() {
		return
	}
	p.forceFail(ctx, rec, fmt.Sprintf("internal error: %v", r))
}

// forceFail marks rec failed even when the in-memory status has no edge to
// failed. The store still holds the last successfully persisted status,
// which is never terminal on this path.
func (p *Pipeline) forceFail(ctx context.Context, rec *task.Record, message string) {
	now := p.now()
	rec.Status = task.StatusFailed
	rec.ErrorMessage = message
	rec.Stage = "failed"
	rec.UpdatedAt = now
	if rec.StartedAt == nil {
		rec.StartedAt = &now
	}
	rec.CompletedAt = &now
	if err := p.save(ctx, rec); err != nil {
		p.logger.Error("task left in last persisted state",
			zap.String("task_id", rec.ID),
			zap.Error(err),
		)
	}
	p.settle(ctx, rec)
}

// persist saves a transition, forcing the task to failed when the store
// keeps rejecting it.
func (p *Pipeline) persist(ctx context.Context, rec *task.Record) bool {
	err := p.save(ctx, rec)
	if err == nil {
		return true
	}
	p.logger.Error("persist transition failed",
		zap.String("task_id", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.Int("attempts", p.persistAttempts),
		zap.Error(err),
	)
	p.forceFail(ctx, rec, "persistence failure: "+err.Error())
	return false
}

func (p *Pipeline) save(ctx context.Context, rec *task.Record) error {
	var err error
	for attempt := 1; attempt <= p.persistAttempts; attempt++ {
		if err = p.saveOnce(ctx, rec); err == nil {
			return nil
		}
		if attempt < p.persistAttempts {
			p.logger.Warn("persist task retry",
				zap.String("task_id", rec.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			time.Sleep(time.Duration(attempt) * p.persistBackoff)
		}
	}
	return err
}

func (p *Pipeline) saveOnce(ctx context.Context, rec *task.Record) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.storeTimeout)
	defer cancel()
	return p.store.Save(ctx, rec.Clone())
}

// settle does the bookkeeping shared by every terminal transition.
func (p *Pipeline) settle(ctx context.Context, rec *task.Record) {
	p.registry.Forget(rec.ID)
	p.stats.Finished(ctx, rec)
	p.publish(rec, events.TypeTaskFinished)

	fields := []zap.Field{
		zap.String("task_id", rec.ID),
		zap.String("status", string(rec.Status)),
		zap.Duration("processing_time", rec.ProcessingTime()),
	}
	if rec.ErrorMessage != "" {
		fields = append(fields, zap.String("error", rec.ErrorMessage))
	}
	if rec.ResultArtifactRef != "" {
		fields = append(fields, zap.String("result", rec.ResultArtifactRef))
	}
	p.logger.Info("task finished", fields...)
}

func (p *Pipeline) publish(rec *task.Record, typ events.Type) {
	ev := events.FromRecord(rec)
	ev.Type = typ
	if typ == events.TypeTaskFinished {
		success := rec.Status == task.StatusCompleted
		ev.Success = &success
	}
	p.events.Publish(ev)
}

func (p *Pipeline) discard(refs []string) {
	for _, ref := range refs {
		p.remove(ref)
	}
}

func (p *Pipeline) remove(ref string) {
	if ref == "" {
		return
	}
	if err := p.remover.RemoveArtifact(ref); err != nil {
		p.logger.Warn("remove artifact failed", zap.String("artifact", ref), zap.Error(err))
	}
}
