// Package queue is the job orchestration engine: a FIFO of task IDs drained
// by a bounded pool of workers, each running a task through the fetch and
// transcribe stages with cooperative cancellation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/events"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// Config tunes the scheduler. Zero values pick the defaults.
type Config struct {
	MaxConcurrency  int
	PersistAttempts int
	PersistBackoff  time.Duration
	StoreTimeout    time.Duration
	// ProgressBucket is the progress step, in percent, at which running
	// tasks are written to the store. Every update is still broadcast.
	ProgressBucket float64
	EventBuffer    int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 3
	}
	if c.PersistAttempts <= 0 {
		c.PersistAttempts = 3
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = 200 * time.Millisecond
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}
	if c.ProgressBucket <= 0 {
		c.ProgressBucket = 5
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	return c
}

// Deps are the collaborators the scheduler drives.
type Deps struct {
	Store       TaskStore
	Stats       StatsRecorder
	Fetcher     MediaFetcher
	Transcriber Transcriber
	// Stages replaces the default fetch and transcribe stages when set.
	Stages  []StageExecutor
	Remover ArtifactRemover
	// Events is created (and closed on Shutdown) by the scheduler when nil.
	Events *events.Broadcaster
	Logger *zap.Logger
}

// Request describes a new transcription job.
type Request struct {
	SourceRef     string
	ModelSelector string
	Options       task.Options
}

// Scheduler accepts tasks, queues them and runs them on a fixed number of
// workers.
type Scheduler struct {
	cfg        Config
	store      TaskStore
	queue      *JobQueue
	registry   *CancellationRegistry
	pipeline   *Pipeline
	events     *events.Broadcaster
	ownsEvents bool
	stats      *Aggregator
	remover    ArtifactRemover
	logger     *zap.Logger

	mu      sync.Mutex
	started bool
	abort   context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	closing atomic.Bool
}

// New wires a scheduler. Workers start with Start.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	if deps.Store == nil {
		return nil, errors.New("queue: task store is required")
	}
	stages := deps.Stages
	if len(stages) == 0 {
		if deps.Fetcher == nil || deps.Transcriber == nil {
			return nil, errors.New("queue: media fetcher and transcriber are required")
		}
		stages = []StageExecutor{NewFetchStage(deps.Fetcher), NewTranscribeStage(deps.Transcriber)}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	remover := deps.Remover
	if remover == nil {
		remover = noopRemover{}
	}
	broadcaster := deps.Events
	owns := false
	if broadcaster == nil {
		broadcaster = events.NewBroadcaster(cfg.EventBuffer, logger.Named("events"))
		owns = true
	}

	s := &Scheduler{
		cfg:        cfg,
		store:      deps.Store,
		queue:      NewJobQueue(),
		registry:   NewCancellationRegistry(),
		events:     broadcaster,
		ownsEvents: owns,
		stats:      NewAggregator(deps.Stats, logger.Named("stats")),
		remover:    remover,
		logger:     logger,
		done:       make(chan struct{}),
	}
	s.pipeline = &Pipeline{
		stages:          stages,
		store:           deps.Store,
		events:          broadcaster,
		registry:        s.registry,
		remover:         remover,
		stats:           s.stats,
		logger:          logger.Named("pipeline"),
		now:             func() time.Time { return time.Now().UTC() },
		persistAttempts: cfg.PersistAttempts,
		persistBackoff:  cfg.PersistBackoff,
		storeTimeout:    cfg.StoreTimeout,
		progressBucket:  cfg.ProgressBucket,
	}
	return s, nil
}

// Start launches the worker loops. Cancelling ctx aborts them like a
// Shutdown deadline would.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("queue: scheduler already started")
	}
	if s.closing.Load() {
		return task.ErrShuttingDown
	}
	runCtx, abort := context.WithCancel(ctx)
	s.abort = abort
	s.started = true

	s.logger.Info("starting worker pool", zap.Int("workers", s.cfg.MaxConcurrency))
	for i := 0; i < s.cfg.MaxConcurrency; i++ {
		s.wg.Add(1)
		go s.worker(runCtx, i)
	}
	go func() {
		s.wg.Wait()
		close(s.done)
	}()
	return nil
}

// Submit creates a pending task for req and queues it.
func (s *Scheduler) Submit(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.SourceRef) == "" {
		return "", errors.New("source reference is required")
	}
	rec := task.New(req.SourceRef, req.ModelSelector, req.Options)
	if err := s.SubmitRecord(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// SubmitRecord persists a pending record and queues it. Nothing is queued
// when the store rejects the record.
func (s *Scheduler) SubmitRecord(ctx context.Context, rec *task.Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", task.ErrInvalidState)
	}
	if rec.Status != task.StatusPending {
		return fmt.Errorf("%w: task %s is %s", task.ErrInvalidState, rec.ID, rec.Status)
	}
	if s.closing.Load() {
		return task.ErrShuttingDown
	}
	if err := s.store.Save(ctx, rec.Clone()); err != nil {
		return fmt.Errorf("%w: %w", task.ErrStoreUnavailable, err)
	}
	if err := s.queue.Enqueue(rec.ID); err != nil {
		// Shutdown won the race. The record stays pending and is queued
		// again by the startup reconcile.
		return err
	}
	s.stats.Created(ctx, rec)
	s.events.Publish(events.FromRecord(rec))
	s.logger.Info("task enqueued",
		zap.String("task_id", rec.ID),
		zap.String("source", rec.SourceRef),
		zap.String("model", rec.ModelSelector),
	)
	return nil
}

// Requeue queues an already persisted pending task, e.g. after a restart.
// A task that is still waiting in the queue is left where it is.
func (s *Scheduler) Requeue(ctx context.Context, id string) error {
	rec, err := s.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != task.StatusPending {
		return fmt.Errorf("%w: task %s is %s", task.ErrInvalidState, id, rec.Status)
	}
	if err := s.queue.Enqueue(id); err != nil && !errors.Is(err, ErrAlreadyQueued) {
		return err
	}
	return nil
}

// Cancel requests cancellation of id. Unknown IDs return task.ErrNotFound;
// terminal tasks are left untouched. Repeated calls are harmless.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	rec, err := s.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return nil
	}
	s.registry.Request(id)
	s.logger.Info("cancellation requested",
		zap.String("task_id", id),
		zap.String("status", string(rec.Status)),
	)

	// The task may have finished between the lookup and the request.
	if cur, err := s.store.Get(ctx, id); err == nil && cur.Status.IsTerminal() && !s.registry.IsActive(id) {
		s.registry.Forget(id)
	}
	return nil
}

// GetStatus returns the stored record for id.
func (s *Scheduler) GetStatus(ctx context.Context, id string) (*task.Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", task.ErrStoreUnavailable, err)
	}
	return rec, nil
}

// List returns stored records matching filter.
func (s *Scheduler) List(ctx context.Context, filter task.Filter) ([]*task.Record, error) {
	recs, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", task.ErrStoreUnavailable, err)
	}
	return recs, nil
}

// Delete removes a task and its artifacts. Pending tasks are cancelled
// first; running tasks only get a cancellation request and the call fails
// with task.ErrInvalidState until the worker lets go.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	rec, err := s.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if !rec.Status.IsTerminal() {
		s.registry.Request(id)
		if rec.Status.IsRunning() || s.registry.IsActive(id) {
			return fmt.Errorf("%w: task %s is still running, cancellation requested", task.ErrInvalidState, id)
		}
	}
	for _, ref := range []string{rec.MediaArtifactRef, rec.ResultArtifactRef} {
		if ref == "" {
			continue
		}
		if err := s.remover.RemoveArtifact(ref); err != nil {
			s.logger.Warn("remove artifact failed", zap.String("task_id", id), zap.String("artifact", ref), zap.Error(err))
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %w", task.ErrStoreUnavailable, err)
	}
	s.registry.Forget(id)
	s.logger.Info("task deleted", zap.String("task_id", id))
	return nil
}

// Subscribe streams events for id, or for every task with events.AllTasks.
func (s *Scheduler) Subscribe(id string) (<-chan events.Event, func()) {
	return s.events.Subscribe(id)
}

// Events exposes the broadcaster so transports can attach sinks.
func (s *Scheduler) Events() *events.Broadcaster {
	return s.events
}

// Active lists the IDs currently owned by workers.
func (s *Scheduler) Active() []string {
	return s.registry.Active()
}

// QueueDepth reports how many tasks wait for a worker.
func (s *Scheduler) QueueDepth() int {
	return s.queue.Len()
}

// Workers reports the configured concurrency.
func (s *Scheduler) Workers() int {
	return s.cfg.MaxConcurrency
}

// DroppedEvents reports broadcast deliveries skipped for slow subscribers.
func (s *Scheduler) DroppedEvents() int64 {
	return s.events.Dropped()
}

// Accepting reports whether Submit still takes new tasks.
func (s *Scheduler) Accepting() bool {
	return !s.closing.Load()
}

// Shutdown stops accepting tasks, lets the workers drain the queue and waits
// for them until ctx ends. On deadline the running tasks are abandoned in
// their current status and ctx.Err() is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	s.queue.Close()

	s.mu.Lock()
	started, abort := s.started, s.abort
	s.mu.Unlock()
	defer s.closeEvents()
	if !started {
		return nil
	}

	select {
	case <-s.done:
		abort()
		s.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached, abandoning running tasks",
			zap.Strings("task_ids", s.registry.Active()),
			zap.Int("queued", s.queue.Len()),
		)
		abort()
		<-s.done
		return ctx.Err()
	}
}

func (s *Scheduler) closeEvents() {
	if s.ownsEvents {
		s.events.Close()
	}
}

func (s *Scheduler) worker(ctx context.Context, n int) {
	defer s.wg.Done()
	logger := s.logger.With(zap.Int("worker", n))
	logger.Debug("worker started")
	for {
		id, err := s.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, ErrClosed) && ctx.Err() == nil {
				logger.Warn("dequeue failed", zap.Error(err))
			}
			logger.Debug("worker stopped")
			return
		}
		s.process(ctx, logger, id)
	}
}

func (s *Scheduler) process(ctx context.Context, logger *zap.Logger, id string) {
	// Claim the task before loading it so the status read below cannot
	// predate another worker's run of the same id.
	taskCtx, release, ok := s.registry.Attach(ctx, id)
	if !ok {
		logger.Warn("task already owned by another worker", zap.String("task_id", id))
		return
	}
	defer release()

	loadCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	rec, err := s.store.Get(loadCtx, id)
	cancel()
	if err != nil {
		logger.Warn("load queued task failed", zap.String("task_id", id), zap.Error(err))
		return
	}
	if rec.Status != task.StatusPending {
		logger.Debug("skipping task no longer pending", zap.String("task_id", id), zap.String("status", string(rec.Status)))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic processing task",
				zap.String("task_id", id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			s.pipeline.recoverPanic(ctx, rec, r)
		}
	}()

	logger.Info("processing task", zap.String("task_id", id))
	if err := s.pipeline.Run(taskCtx, rec); errors.Is(err, ErrAborted) {
		logger.Warn("task abandoned",
			zap.String("task_id", id),
			zap.String("status", string(rec.Status)),
		)
	}
}
