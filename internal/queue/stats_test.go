package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

type failingRecorder struct{}

func (failingRecorder) AddStats(context.Context, task.StatsDelta) error {
	return errors.New("disk full")
}

func TestAggregatorFinished(t *testing.T) {
	started := time.Date(2025, 1, 23, 23, 59, 0, 0, time.FixedZone("UTC+2", 2*3600))
	completed := started.Add(90 * time.Second)

	tests := []struct {
		name   string
		status task.Status
		want   task.StatsDelta
	}{
		{"completed", task.StatusCompleted, task.StatsDelta{Completed: 1, ProcessingSeconds: 90, MediaSeconds: 300, ResultBytes: 2048}},
		{"failed", task.StatusFailed, task.StatsDelta{Failed: 1}},
		{"cancelled", task.StatusCancelled, task.StatsDelta{Cancelled: 1}},
		{"running is ignored", task.StatusTranscribing, task.StatsDelta{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			agg := NewAggregator(store, nil)
			rec := &task.Record{
				ModelSelector: "small",
				Status:        tt.status,
				StartedAt:     &started,
				CompletedAt:   &completed,
				MediaDuration: 300,
				ResultBytes:   2048,
			}
			agg.Finished(context.Background(), rec)

			if tt.status == task.StatusTranscribing {
				if len(store.stats) != 0 {
					t.Fatalf("expected no statistics, got %+v", store.stats)
				}
				return
			}
			if len(store.stats) != 1 {
				t.Fatalf("expected one delta, got %d", len(store.stats))
			}
			got := store.stats[0]
			if got.Model != "small" || got.Day.Location() != time.UTC || !got.Day.Equal(completed) {
				t.Fatalf("delta key = %v %q", got.Day, got.Model)
			}
			if got.Completed != tt.want.Completed || got.Failed != tt.want.Failed || got.Cancelled != tt.want.Cancelled ||
				got.ProcessingSeconds != tt.want.ProcessingSeconds || got.MediaSeconds != tt.want.MediaSeconds ||
				got.ResultBytes != tt.want.ResultBytes {
				t.Fatalf("delta = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAggregatorLogsRecorderFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	agg := NewAggregator(failingRecorder{}, zap.New(core))
	agg.Created(context.Background(), &task.Record{ModelSelector: "tiny", CreatedAt: time.Now()})

	if logs.FilterMessage("record statistics failed").Len() != 1 {
		t.Fatalf("expected a warning, got %v", logs.All())
	}
}

func TestNilAggregatorIsSafe(t *testing.T) {
	var agg *Aggregator
	agg.Created(context.Background(), &task.Record{})
	NewAggregator(nil, nil).Finished(context.Background(), &task.Record{Status: task.StatusFailed})
}
