package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

func TestJobQueueFIFO(t *testing.T) {
	q := NewJobQueue()
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(id); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d", q.Len())
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(context.Background())
		if err != nil || got != want {
			t.Fatalf("Dequeue = %q, %v; want %q", got, err, want)
		}
	}
}

func TestJobQueueRejectsQueuedID(t *testing.T) {
	q := NewJobQueue()
	if err := q.Enqueue("a"); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue("a"); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("second Enqueue = %v, want ErrAlreadyQueued", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d", q.Len())
	}
	if id, err := q.Dequeue(context.Background()); err != nil || id != "a" {
		t.Fatalf("Dequeue = %q, %v", id, err)
	}
	// Once dispatched the id may be queued again.
	if err := q.Enqueue("a"); err != nil {
		t.Fatalf("Enqueue after Dequeue: %v", err)
	}
}

func TestJobQueueDequeueWaitsForEnqueue(t *testing.T) {
	q := NewJobQueue()
	got := make(chan string, 1)
	go func() {
		id, _ := q.Dequeue(context.Background())
		got <- id
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case id := <-got:
		t.Fatalf("Dequeue returned %q on an empty queue", id)
	default:
	}

	if err := q.Enqueue("late"); err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-got:
		if id != "late" {
			t.Fatalf("got %q", id)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake up")
	}
}

func TestJobQueueDequeueHonoursContext(t *testing.T) {
	q := NewJobQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestJobQueueCloseDrainsThenReportsClosed(t *testing.T) {
	q := NewJobQueue()
	_ = q.Enqueue("a")
	q.Close()
	q.Close()

	if err := q.Enqueue("b"); !errors.Is(err, task.ErrShuttingDown) {
		t.Fatalf("Enqueue after close: %v", err)
	}
	if id, err := q.Dequeue(context.Background()); err != nil || id != "a" {
		t.Fatalf("Dequeue = %q, %v", id, err)
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestJobQueueCloseWakesWaiters(t *testing.T) {
	q := NewJobQueue()
	errs := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by Close")
	}
}

func TestCancellationRegistryCancelsAttachedContext(t *testing.T) {
	r := NewCancellationRegistry()
	ctx, release, ok := r.Attach(context.Background(), "t1")
	if !ok {
		t.Fatal("Attach failed")
	}
	defer release()

	if _, _, again := r.Attach(context.Background(), "t1"); again {
		t.Fatal("second Attach for the same task succeeded")
	}
	if !r.IsActive("t1") || len(r.Active()) != 1 {
		t.Fatalf("active = %v", r.Active())
	}

	r.Request("t1")
	r.Request("t1")
	select {
	case <-ctx.Done():
	default:
		t.Fatal("context not cancelled by Request")
	}
	if !r.IsRequested("t1") || r.Pending() != 1 {
		t.Fatal("request not recorded once")
	}
	r.Forget("t1")
	if r.IsRequested("t1") {
		t.Fatal("Forget did not clear request")
	}
}

func TestCancellationRegistryAttachAfterRequest(t *testing.T) {
	r := NewCancellationRegistry()
	r.Request("t1")
	ctx, release, ok := r.Attach(context.Background(), "t1")
	if !ok {
		t.Fatal("Attach failed")
	}
	if ctx.Err() == nil {
		t.Fatal("expected context already cancelled")
	}
	release()
	if r.IsActive("t1") {
		t.Fatal("release left task active")
	}
}

func TestCancellationRegistryReleaseDropsRequest(t *testing.T) {
	r := NewCancellationRegistry()
	_, release, ok := r.Attach(context.Background(), "t1")
	if !ok {
		t.Fatal("Attach failed")
	}
	r.Request("t1")
	release()
	if r.IsRequested("t1") || r.Pending() != 0 {
		t.Fatalf("pending = %d after release", r.Pending())
	}
}
