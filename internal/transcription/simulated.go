package transcription

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/queue"
	"github.com/codebuildervaibhav/mediascribe/internal/storage"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// SimulatedTranscriber produces a placeholder transcript without running a
// model. It is used when Whisper is not installed or simulation is forced.
type SimulatedTranscriber struct {
	storage   *storage.LocalStorage
	publisher *publisher
	step      time.Duration
	logger    *zap.Logger
}

var _ queue.Transcriber = (*SimulatedTranscriber)(nil)

// NewSimulatedTranscriber creates a transcriber that advances progress from
// 20 to 90 in steps of 10, waiting cfg.SimulateStep between steps.
func NewSimulatedTranscriber(cfg Config, ls *storage.LocalStorage, pub Publisher, logger *zap.Logger) *SimulatedTranscriber {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("simulated")
	return &SimulatedTranscriber{
		storage:   ls,
		publisher: newPublisher(pub, cfg.PublishAttempts, cfg.PublishBackoff, logger),
		step:      cfg.SimulateStep,
		logger:    logger,
	}
}

// Transcribe implements queue.Transcriber.
func (s *SimulatedTranscriber) Transcribe(ctx context.Context, mediaRef, modelSelector string, opts task.Options, progress queue.ProgressFunc) (task.Transcript, error) {
	model, ok := LookupModel(modelSelector)
	if !ok {
		return task.Transcript{}, &task.TranscribeError{Reason: fmt.Sprintf("model not found: %s", modelSelector)}
	}
	format := opts.OutputFormat()
	if !task.IsSupportedOutputFormat(format) {
		return task.Transcript{}, &task.TranscribeError{Reason: fmt.Sprintf("unsupported output format: %s", format)}
	}

	for pct := 20; pct < 100; pct += 10 {
		progress(float64(pct), "transcribing")
		select {
		case <-time.After(s.step):
		case <-ctx.Done():
			return task.Transcript{}, ctx.Err()
		}
	}

	taskID, _ := task.IDFromContext(ctx)
	lang := opts.Language()
	if lang == "" {
		lang = "en"
	}
	now := time.Now()
	text := fmt.Sprintf(`This is a simulated transcription result.

Task ID: %s
Media: %s
Model: %s
Transcribed at: %s

Whisper is not installed, so this content is a placeholder.
Install openai-whisper to get real transcripts.

Simulated content:
Hello everyone, and welcome to this video.
Today we are going to talk about how artificial intelligence is used in modern society.`,
		taskID, mediaRef, model.Name, now.Format("2006-01-02 15:04:05"))

	result := &task.TranscriptionResult{
		TaskID:   taskID,
		Title:    opts.Get(task.OptTitle),
		Model:    model.Name,
		Text:     text,
		Language: lang,
		Duration: 10,
		Segments: []task.Segment{
			{Start: 0, End: 5, Text: "Hello everyone, and welcome to this video."},
			{Start: 5, End: 10, Text: "Today we are going to talk about how artificial intelligence is used in modern society."},
		},
		ProcessedAt: now,
		Simulated:   true,
	}
	result.WordCount = wordCount(text)

	path, size, err := s.storage.SaveTranscript(result, format)
	if err != nil {
		return task.Transcript{}, &task.TranscribeError{Reason: "failed to save transcript", Err: err}
	}
	s.logger.Debug("simulated transcript written", zap.String("task_id", taskID), zap.String("path", path))

	return task.Transcript{
		Ref:      path,
		Bytes:    size,
		Language: lang,
		URL:      s.publisher.publish(ctx, path, result),
	}, nil
}
