package transcription

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/queue"
	"github.com/codebuildervaibhav/mediascribe/internal/storage"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// segmentLine matches the verbose output of python -m whisper:
// [00:05.000 --> 00:09.500]  text
var segmentLine = regexp.MustCompile(`^\[((?:\d+:)?\d+:\d+\.\d+)\s+-->\s+((?:\d+:)?\d+:\d+\.\d+)\]`)

// WhisperTranscriber wraps Python's OpenAI Whisper for transcription
type WhisperTranscriber struct {
	python    string
	ffmpeg    string
	device    string
	workDir   string
	storage   *storage.LocalStorage
	publisher *publisher
	slots     chan struct{}
	logger    *zap.Logger
}

var _ queue.Transcriber = (*WhisperTranscriber)(nil)

// NewWhisperTranscriber creates a transcriber that runs `python -m whisper`.
// At most cfg.MaxParallel transcriptions run at once.
func NewWhisperTranscriber(cfg Config, ls *storage.LocalStorage, pub Publisher, logger *zap.Logger) *WhisperTranscriber {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("whisper")
	logger.Info("whisper transcriber ready",
		zap.String("python", cfg.Python),
		zap.String("device", cfg.Device),
		zap.Int("max_parallel", cfg.MaxParallel))
	return &WhisperTranscriber{
		python:    cfg.Python,
		ffmpeg:    cfg.FFmpeg,
		device:    cfg.Device,
		workDir:   cfg.WorkDir,
		storage:   ls,
		publisher: newPublisher(pub, cfg.PublishAttempts, cfg.PublishBackoff, logger),
		slots:     make(chan struct{}, cfg.MaxParallel),
		logger:    logger,
	}
}

// Transcribe converts mediaRef to 16kHz WAV, runs Whisper and saves the
// result in the requested output format.
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, mediaRef, modelSelector string, opts task.Options, progress queue.ProgressFunc) (task.Transcript, error) {
	model, ok := LookupModel(modelSelector)
	if !ok {
		return task.Transcript{}, &task.TranscribeError{Reason: fmt.Sprintf("model not found: %s", modelSelector)}
	}
	format := opts.OutputFormat()
	if !task.IsSupportedOutputFormat(format) {
		return task.Transcript{}, &task.TranscribeError{Reason: fmt.Sprintf("unsupported output format: %s", format)}
	}

	select {
	case wt.slots <- struct{}{}:
		defer func() { <-wt.slots }()
	case <-ctx.Done():
		return task.Transcript{}, ctx.Err()
	}

	taskID, _ := task.IDFromContext(ctx)
	workDir, err := os.MkdirTemp(wt.workDir, "whisper_")
	if err != nil {
		return task.Transcript{}, &task.TranscribeError{Reason: "cannot create work directory", Err: err}
	}
	defer os.RemoveAll(workDir) // Clean up after

	progress(0, "converting audio")
	wavPath, duration, err := NormalizeAudio(ctx, wt.ffmpeg, mediaRef, workDir)
	if err != nil {
		if ctx.Err() != nil {
			return task.Transcript{}, ctx.Err()
		}
		return task.Transcript{}, &task.TranscribeError{Reason: "audio conversion failed", Err: err}
	}
	progress(10, "transcribing")

	args := []string{"-m", "whisper",
		wavPath,
		"--model", model.Name,
		"--output_dir", workDir,
		"--output_format", "json", // Get JSON for segments
		"--fp16", "False",         // Disable fp16 for CPU compatibility
		"--verbose", "True",
	}
	if lang := task.NormalizeLanguage(opts.Language()); lang != "" {
		args = append(args, "--language", lang)
	}
	if wt.device != "" {
		args = append(args, "--device", wt.device)
	}

	wt.logger.Info("transcribing",
		zap.String("task_id", taskID),
		zap.String("model", model.Name),
		zap.Float64("duration_seconds", duration))

	cmd := exec.CommandContext(ctx, wt.python, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return task.Transcript{}, &task.TranscribeError{Reason: "cannot start whisper", Err: err}
	}
	var stderr tailBuffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return task.Transcript{}, &task.TranscribeError{Reason: "whisper is not available", Err: err}
	}
	scanSegments(stdout, duration, progress)
	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return task.Transcript{}, ctx.Err()
		}
		reason := "whisper transcription failed"
		if line := stderr.lastLine(); line != "" {
			reason += ": " + line
		}
		return task.Transcript{}, &task.TranscribeError{Reason: reason, Err: err}
	}

	// Read the JSON output file
	baseName := strings.TrimSuffix(filepath.Base(wavPath), filepath.Ext(wavPath))
	out, err := readWhisperOutput(filepath.Join(workDir, baseName+".json"))
	if err != nil {
		return task.Transcript{}, &task.TranscribeError{Reason: "failed to read whisper output", Err: err}
	}

	result := out.result()
	result.TaskID = taskID
	result.Title = opts.Get(task.OptTitle)
	result.Model = model.Name
	result.ProcessedAt = time.Now()
	if duration > 0 {
		result.Duration = duration
	}

	progress(92, "saving result")
	path, size, err := wt.storage.SaveTranscript(result, format)
	if err != nil {
		return task.Transcript{}, &task.TranscribeError{Reason: "failed to save transcript", Err: err}
	}
	transcript := task.Transcript{
		Ref:      path,
		Bytes:    size,
		Duration: result.Duration,
		Language: result.Language,
	}

	progress(95, "uploading")
	transcript.URL = wt.publisher.publish(ctx, path, result)

	wt.logger.Info("transcription completed",
		zap.String("task_id", taskID),
		zap.Int("segments", len(result.Segments)),
		zap.Float64("duration_seconds", result.Duration))
	progress(100, "done")
	return transcript, nil
}

// scanSegments maps segment end times onto 10..90.
func scanSegments(r io.Reader, duration float64, progress queue.ProgressFunc) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		m := segmentLine.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil || duration <= 0 {
			continue
		}
		end := parseTimestamp(m[2])
		frac := end / duration
		if frac > 1 {
			frac = 1
		}
		progress(10+frac*80, "transcribing")
	}
	_, _ = io.Copy(io.Discard, r)
}

// parseTimestamp reads [hh:]mm:ss.mmm into seconds.
func parseTimestamp(ts string) float64 {
	var total float64
	for _, part := range strings.Split(ts, ":") {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0
		}
		total = total*60 + v
	}
	return total
}

// WhisperOutput matches Python Whisper's JSON output format
type WhisperOutput struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []WhisperSegment `json:"segments"`
}

// WhisperSegment represents a timestamped segment from Whisper
type WhisperSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

func readWhisperOutput(path string) (*WhisperOutput, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out WhisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse whisper JSON: %w", err)
	}
	return &out, nil
}

func (w *WhisperOutput) result() *task.TranscriptionResult {
	segments := make([]task.Segment, len(w.Segments))
	for i, seg := range w.Segments {
		segments[i] = task.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
	}
	// Duration falls back to the last segment end time
	var duration float64
	if len(segments) > 0 {
		duration = segments[len(segments)-1].End
	}
	text := strings.TrimSpace(w.Text)
	return &task.TranscriptionResult{
		Text:      text,
		Language:  w.Language,
		Duration:  duration,
		Segments:  segments,
		WordCount: wordCount(text),
	}
}

// tailBuffer keeps the last 4KB written to it.
type tailBuffer struct {
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > 4096 {
		t.buf = t.buf[len(t.buf)-4096:]
	}
	return len(p), nil
}

func (t *tailBuffer) lastLine() string {
	if len(strings.TrimSpace(string(t.buf))) == 0 {
		return ""
	}
	return lastOutputLine(t.buf)
}
