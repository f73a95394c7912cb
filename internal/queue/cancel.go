package queue

import (
	"context"
	"sort"
	"sync"
)

// CancellationRegistry tracks task IDs whose cancellation was requested and
// the contexts of tasks currently owned by a worker. Requesting cancellation
// of an active task also cancels its context so the stage stops waiting.
type CancellationRegistry struct {
	mu        sync.Mutex
	requested map[string]struct{}
	active    map[string]context.CancelFunc
}

// NewCancellationRegistry creates an empty registry.
func NewCancellationRegistry() *CancellationRegistry {
	return &CancellationRegistry{
		requested: make(map[string]struct{}),
		active:    make(map[string]context.CancelFunc),
	}
}

// Request marks id as cancelled. Repeated requests are no-ops.
func (r *CancellationRegistry) Request(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requested[id] = struct{}{}
	if cancel, ok := r.active[id]; ok {
		cancel()
	}
}

// IsRequested reports whether cancellation of id was requested.
func (r *CancellationRegistry) IsRequested(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.requested[id]
	return ok
}

// Forget drops the request for id once the task reached a terminal state.
func (r *CancellationRegistry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requested, id)
}

// Attach claims id for a worker and returns a context cancelled on request.
// ok is false when another worker already owns id. release also drops any
// cancellation request for id, since the worker has finished with it.
func (r *CancellationRegistry) Attach(parent context.Context, id string) (ctx context.Context, release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[id]; busy {
		return nil, func() {}, false
	}
	ctx, cancel := context.WithCancel(parent)
	r.active[id] = cancel
	if _, cancelled := r.requested[id]; cancelled {
		cancel()
	}
	release = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.active, id)
		delete(r.requested, id)
		cancel()
	}
	return ctx, release, true
}

// IsActive reports whether a worker currently owns id.
func (r *CancellationRegistry) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// Active lists the task IDs owned by workers, sorted.
func (r *CancellationRegistry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Pending reports how many cancellation requests are outstanding.
func (r *CancellationRegistry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requested)
}
