package queue

import (
	"context"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// StageResult is what a stage produced. Apply copies the outcome onto the
// owning record and runs on the worker goroutine only. Artifacts lists every
// reference the stage created so they can be released if the task is
// cancelled or the result arrives after the worker stopped waiting.
type StageResult struct {
	Artifacts []string
	Apply     func(rec *task.Record)
}

// StageExecutor runs one pipeline stage. Execute receives a snapshot of the
// record and must not retain it.
type StageExecutor interface {
	Name() string
	Status() task.Status
	Label() string
	Execute(ctx context.Context, rec *task.Record, progress ProgressFunc) (StageResult, error)
}

type fetchStage struct {
	fetcher MediaFetcher
}

// NewFetchStage acquires media through fetcher.
func NewFetchStage(fetcher MediaFetcher) StageExecutor {
	return &fetchStage{fetcher: fetcher}
}

func (s *fetchStage) Name() string        { return "fetch" }
func (s *fetchStage) Status() task.Status { return task.StatusFetching }
func (s *fetchStage) Label() string       { return "downloading media" }

func (s *fetchStage) Execute(ctx context.Context, rec *task.Record, progress ProgressFunc) (StageResult, error) {
	media, err := s.fetcher.Fetch(ctx, rec.SourceRef, rec.Options, progress)
	var res StageResult
	if media.Ref != "" {
		res.Artifacts = []string{media.Ref}
	}
	if err != nil {
		return res, err
	}
	if media.Ref == "" {
		return res, &task.FetchError{Reason: "fetcher returned no media"}
	}
	res.Apply = func(r *task.Record) {
		r.MediaArtifactRef = media.Ref
		if r.Title == "" {
			r.Title = media.Title
		}
		if media.Duration > 0 {
			r.MediaDuration = media.Duration
		}
	}
	return res, nil
}

type transcribeStage struct {
	transcriber Transcriber
}

// NewTranscribeStage turns the fetched media into a result with transcriber.
func NewTranscribeStage(transcriber Transcriber) StageExecutor {
	return &transcribeStage{transcriber: transcriber}
}

func (s *transcribeStage) Name() string        { return "transcribe" }
func (s *transcribeStage) Status() task.Status { return task.StatusTranscribing }
func (s *transcribeStage) Label() string       { return "transcribing" }

func (s *transcribeStage) Execute(ctx context.Context, rec *task.Record, progress ProgressFunc) (StageResult, error) {
	opts := rec.Options.Clone()
	if opts.Get(task.OptTitle) == "" && rec.Title != "" {
		opts[task.OptTitle] = rec.Title
	}
	out, err := s.transcriber.Transcribe(ctx, rec.MediaArtifactRef, rec.ModelSelector, opts, progress)
	var res StageResult
	if out.Ref != "" {
		res.Artifacts = []string{out.Ref}
	}
	if err != nil {
		return res, err
	}
	if out.Ref == "" {
		return res, &task.TranscribeError{Reason: "transcriber produced no result"}
	}
	res.Apply = func(r *task.Record) {
		r.ResultArtifactRef = out.Ref
		r.ResultBytes = out.Bytes
		r.ResultURL = out.URL
		if out.Language != "" {
			r.Language = out.Language
		}
		if r.MediaDuration == 0 && out.Duration > 0 {
			r.MediaDuration = out.Duration
		}
	}
	return res, nil
}
