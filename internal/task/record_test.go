package task

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewRecordIsPending(t *testing.T) {
	rec := New(" https://example.com/v/1 ", "medium", Options{OptTitle: "Lecture"})
	if rec.Status != StatusPending {
		t.Fatalf("status = %s, want pending", rec.Status)
	}
	if !strings.HasPrefix(rec.ID, "task_") || len(rec.ID) != len("task_20060102_150405_")+8 {
		t.Fatalf("unexpected id format %q", rec.ID)
	}
	if rec.SourceRef != "https://example.com/v/1" {
		t.Fatalf("source not trimmed: %q", rec.SourceRef)
	}
	if rec.Title != "Lecture" {
		t.Fatalf("title = %q", rec.Title)
	}
	if rec.StartedAt != nil || rec.CompletedAt != nil {
		t.Fatal("new record should have no lifecycle timestamps")
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusFetching, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusTranscribing, false},
		{StatusPending, StatusFailed, false},
		{StatusFetching, StatusTranscribing, true},
		{StatusFetching, StatusFailed, true},
		{StatusFetching, StatusCancelled, true},
		{StatusFetching, StatusPending, false},
		{StatusTranscribing, StatusCompleted, true},
		{StatusTranscribing, StatusFailed, true},
		{StatusTranscribing, StatusCancelled, true},
		{StatusTranscribing, StatusFetching, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusPending, false},
		{StatusCancelled, StatusFetching, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestTransitionTimestamps(t *testing.T) {
	rec := New("src", "base", nil)
	t0 := time.Date(2025, 1, 23, 10, 0, 0, 0, time.UTC)

	if err := rec.Transition(StatusFetching, t0); err != nil {
		t.Fatalf("to fetching: %v", err)
	}
	if rec.StartedAt == nil || !rec.StartedAt.Equal(t0) {
		t.Fatalf("started_at = %v, want %v", rec.StartedAt, t0)
	}
	if err := rec.Transition(StatusTranscribing, t0.Add(time.Minute)); err != nil {
		t.Fatalf("to transcribing: %v", err)
	}
	if !rec.StartedAt.Equal(t0) {
		t.Fatal("started_at must not move on later transitions")
	}
	if err := rec.Transition(StatusCompleted, t0.Add(3*time.Minute)); err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if rec.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	if got := rec.ProcessingTime(); got != 3*time.Minute {
		t.Fatalf("processing time = %s", got)
	}

	err := rec.Transition(StatusFailed, t0.Add(4*time.Minute))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal transition error = %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("status regressed to %s", rec.Status)
	}
}

func TestCancelledFromPendingSetsBothTimestamps(t *testing.T) {
	rec := New("src", "base", nil)
	now := time.Now().UTC()
	if err := rec.Transition(StatusCancelled, now); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if rec.StartedAt == nil || rec.CompletedAt == nil {
		t.Fatal("expected started_at and completed_at on direct cancel")
	}
}

func TestSetProgressIsMonotonic(t *testing.T) {
	rec := New("src", "base", nil)
	if !rec.SetProgress(10) {
		t.Fatal("expected increase")
	}
	if rec.SetProgress(5) {
		t.Fatal("decrease must be ignored")
	}
	rec.SetProgress(250)
	if rec.Progress != 100 {
		t.Fatalf("progress = %v, want clamp to 100", rec.Progress)
	}
}

func TestCloneIsDeep(t *testing.T) {
	rec := New("src", "base", Options{OptKeepMedia: "true"})
	now := time.Now()
	_ = rec.Transition(StatusFetching, now)

	cp := rec.Clone()
	cp.Options[OptKeepMedia] = "false"
	*cp.StartedAt = now.Add(time.Hour)

	if rec.Options[OptKeepMedia] != "true" {
		t.Fatal("options shared between clones")
	}
	if !rec.StartedAt.Equal(now) {
		t.Fatal("started_at shared between clones")
	}
}

func TestErrorMessageUsesReason(t *testing.T) {
	err := &TranscribeError{Reason: "model not found", Err: errors.New("exit status 1")}
	if got := ErrorMessage(err); got != "model not found" {
		t.Fatalf("ErrorMessage = %q", got)
	}
	wrapped := errors.Join(errors.New("ctx"), &FetchError{Reason: "404"})
	if got := ErrorMessage(wrapped); got != "404" {
		t.Fatalf("ErrorMessage(wrapped) = %q", got)
	}
	if got := ErrorMessage(errors.New("plain")); got != "plain" {
		t.Fatalf("ErrorMessage(plain) = %q", got)
	}
}
