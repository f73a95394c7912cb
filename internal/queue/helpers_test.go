package queue

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

type memStore struct {
	mu       sync.Mutex
	recs     map[string]*task.Record
	history  map[string][]task.Status
	failSave func(rec *task.Record) error
	stats    []task.StatsDelta
}

func newMemStore() *memStore {
	return &memStore{
		recs:    make(map[string]*task.Record),
		history: make(map[string][]task.Status),
	}
}

func (m *memStore) Save(_ context.Context, rec *task.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		if err := m.failSave(rec); err != nil {
			return err
		}
	}
	m.recs[rec.ID] = rec.Clone()
	h := m.history[rec.ID]
	if len(h) == 0 || h[len(h)-1] != rec.Status {
		m.history[rec.ID] = append(h, rec.Status)
	}
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*task.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *memStore) List(_ context.Context, filter task.Filter) ([]*task.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*task.Record
	for _, rec := range m.recs {
		if len(filter.Statuses) > 0 {
			match := false
			for _, st := range filter.Statuses {
				if rec.Status == st {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[id]; !ok {
		return task.ErrNotFound
	}
	delete(m.recs, id)
	return nil
}

func (m *memStore) AddStats(_ context.Context, delta task.StatsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = append(m.stats, delta)
	return nil
}

func (m *memStore) status(id string) task.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recs[id]; ok {
		return rec.Status
	}
	return ""
}

func (m *memStore) statusHistory(id string) []task.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]task.Status(nil), m.history[id]...)
}

func (m *memStore) countStatus(statuses ...task.Status) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.recs {
		for _, st := range statuses {
			if rec.Status == st {
				n++
			}
		}
	}
	return n
}

func (m *memStore) statTotals() (created, completed, failed, cancelled int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.stats {
		created += d.Created
		completed += d.Completed
		failed += d.Failed
		cancelled += d.Cancelled
	}
	return
}

type memRemover struct {
	mu      sync.Mutex
	removed []string
}

func (r *memRemover) RemoveArtifact(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, ref)
	return nil
}

func (r *memRemover) has(ref string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.removed {
		if got == ref {
			return true
		}
	}
	return false
}

type fetcherFunc func(ctx context.Context, sourceRef string, opts task.Options, progress ProgressFunc) (task.Media, error)

func (f fetcherFunc) Fetch(ctx context.Context, sourceRef string, opts task.Options, progress ProgressFunc) (task.Media, error) {
	return f(ctx, sourceRef, opts, progress)
}

type transcriberFunc func(ctx context.Context, mediaRef, model string, opts task.Options, progress ProgressFunc) (task.Transcript, error)

func (f transcriberFunc) Transcribe(ctx context.Context, mediaRef, model string, opts task.Options, progress ProgressFunc) (task.Transcript, error) {
	return f(ctx, mediaRef, model, opts, progress)
}

func instantFetcher() MediaFetcher {
	return fetcherFunc(func(_ context.Context, sourceRef string, _ task.Options, progress ProgressFunc) (task.Media, error) {
		progress(100, "")
		return task.Media{Ref: "media/" + path.Base(sourceRef) + ".m4a", Title: path.Base(sourceRef), Duration: 60}, nil
	})
}

func instantTranscriber() Transcriber {
	return transcriberFunc(func(_ context.Context, mediaRef, _ string, _ task.Options, progress ProgressFunc) (task.Transcript, error) {
		progress(100, "")
		return task.Transcript{Ref: strings.TrimSuffix(mediaRef, ".m4a") + ".txt", Bytes: 42, Language: "en"}, nil
	})
}

// blockingFetcher waits for release (or ctx) and counts concurrent calls.
type blockingFetcher struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
	running int
	peak    int
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{release: make(chan struct{})}
}

func (b *blockingFetcher) Fetch(ctx context.Context, sourceRef string, _ task.Options, _ ProgressFunc) (task.Media, error) {
	b.mu.Lock()
	b.calls++
	b.running++
	if b.running > b.peak {
		b.peak = b.running
	}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running--
		b.mu.Unlock()
	}()

	select {
	case <-b.release:
		return task.Media{Ref: "media/" + path.Base(sourceRef)}, nil
	case <-ctx.Done():
		return task.Media{}, ctx.Err()
	}
}

func (b *blockingFetcher) stats() (calls, peak int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls, b.peak
}

func newTestScheduler(t *testing.T, cfg Config, deps Deps) *Scheduler {
	t.Helper()
	if cfg.PersistBackoff == 0 {
		cfg.PersistBackoff = time.Millisecond
	}
	s, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func submit(t *testing.T, s *Scheduler, source string, opts task.Options) string {
	t.Helper()
	id, err := s.Submit(context.Background(), Request{SourceRef: source, ModelSelector: "base", Options: opts})
	if err != nil {
		t.Fatalf("Submit(%s): %v", source, err)
	}
	return id
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForStatus(t *testing.T, store *memStore, id string, want task.Status) {
	t.Helper()
	waitFor(t, id+" to be "+string(want), func() bool { return store.status(id) == want })
}

var errDiskFull = errors.New("disk full")
