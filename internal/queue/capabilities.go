package queue

import (
	"context"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// ProgressFunc receives collaborator progress in [0,100] for the current
// stage plus an optional human readable step label.
type ProgressFunc func(percent float64, message string)

// MediaFetcher acquires the media a task refers to.
type MediaFetcher interface {
	Fetch(ctx context.Context, sourceRef string, opts task.Options, progress ProgressFunc) (task.Media, error)
}

// Transcriber turns a fetched media artifact into a result artifact.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaRef, modelSelector string, opts task.Options, progress ProgressFunc) (task.Transcript, error)
}

// TaskStore is the single source of truth for task records. It must accept
// concurrent writes to different records.
type TaskStore interface {
	Save(ctx context.Context, rec *task.Record) error
	Get(ctx context.Context, id string) (*task.Record, error)
	List(ctx context.Context, filter task.Filter) ([]*task.Record, error)
	Delete(ctx context.Context, id string) error
}

// StatsRecorder persists additive statistics.
type StatsRecorder interface {
	AddStats(ctx context.Context, delta task.StatsDelta) error
}

// ArtifactRemover deletes artifacts produced by collaborators. Removal is
// best effort; errors are only logged.
type ArtifactRemover interface {
	RemoveArtifact(ref string) error
}

type noopRemover struct{}

func (noopRemover) RemoveArtifact(string) error { return nil }
