// Package events fans task progress out to live subscribers such as websocket
// clients, the CLI and external sinks.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// AllTasks subscribes to every task.
const AllTasks = "*"

// Type classifies broadcast events.
type Type string

const (
	TypeTaskUpdate   Type = "task_update"
	TypeTaskFinished Type = "task_finished"
)

// Event is one progress notification.
type Event struct {
	Seq          int64       `json:"seq"`
	Type         Type        `json:"type"`
	TaskID       string      `json:"task_id"`
	Status       task.Status `json:"status"`
	Progress     float64     `json:"progress"`
	Stage        string      `json:"current_stage,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Success      *bool       `json:"success,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// FromRecord builds an update event from the current record state.
func FromRecord(rec *task.Record) Event {
	return Event{
		Type:         TypeTaskUpdate,
		TaskID:       rec.ID,
		Status:       rec.Status,
		Progress:     rec.Progress,
		Stage:        rec.Stage,
		ErrorMessage: rec.ErrorMessage,
	}
}

// Sink receives every event. Implementations must not assume delivery.
type Sink interface {
	Notify(taskID string, ev Event)
}

// Broadcaster delivers events to subscribers keyed by task ID plus the
// AllTasks key. Publishing never blocks: a full subscriber buffer drops the
// event for that subscriber only.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscriber]struct{}
	closed  bool
	buffer  int
	seq     atomic.Int64
	dropped atomic.Int64
	sinks   sync.WaitGroup
	logger  *zap.Logger
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewBroadcaster creates a broadcaster with per-subscriber buffers of size buffer.
func NewBroadcaster(buffer int, logger *zap.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers interest in taskID (or AllTasks). The returned function
// unsubscribes and closes the channel; calling it more than once is safe.
func (b *Broadcaster) Subscribe(taskID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	set, ok := b.subs[taskID]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.subs[taskID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	return sub.ch, func() { b.unsubscribe(taskID, sub) }
}

func (b *Broadcaster) unsubscribe(taskID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[taskID]; ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			sub.close()
		}
		if len(set) == 0 {
			delete(b.subs, taskID)
		}
	}
}

// Publish stamps ev and delivers it to the task's subscribers and to
// AllTasks subscribers.
func (b *Broadcaster) Publish(ev Event) Event {
	ev.Seq = b.seq.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ev
	}
	b.deliver(b.subs[ev.TaskID], ev)
	if ev.TaskID != AllTasks {
		b.deliver(b.subs[AllTasks], ev)
	}
	return ev
}

func (b *Broadcaster) deliver(set map[*subscriber]struct{}, ev Event) {
	for sub := range set {
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// AddSink attaches an external sink fed from its own AllTasks subscription.
func (b *Broadcaster) AddSink(sink Sink) {
	ch, _ := b.Subscribe(AllTasks)
	b.sinks.Add(1)
	go func() {
		defer b.sinks.Done()
		for ev := range ch {
			b.notify(sink, ev)
		}
	}()
}

func (b *Broadcaster) notify(sink Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("progress sink panicked", zap.String("task_id", ev.TaskID), zap.Any("panic", r))
		}
	}()
	sink.Notify(ev.TaskID, ev)
}

// SubscriberCount reports active subscriptions for taskID.
func (b *Broadcaster) SubscriberCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[taskID])
}

// Dropped reports how many deliveries were skipped because a buffer was full.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscription and waits for sinks to drain.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for key, set := range b.subs {
		for sub := range set {
			sub.close()
		}
		delete(b.subs, key)
	}
	b.mu.Unlock()
	b.sinks.Wait()
}
