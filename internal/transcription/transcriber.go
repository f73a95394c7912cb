// Package transcription turns fetched media into transcripts, either with
// OpenAI Whisper or with a simulated engine for development.
package transcription

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/queue"
	"github.com/codebuildervaibhav/mediascribe/internal/storage"
)

// Config selects and tunes the transcriber.
type Config struct {
	// Simulate forces the simulated transcriber even when Whisper exists.
	Simulate bool
	Python   string
	FFmpeg   string
	// Device is passed to whisper --device when set (cpu, cuda).
	Device string
	// WorkDir holds intermediate WAV and JSON files.
	WorkDir         string
	MaxParallel     int
	PublishAttempts int
	PublishBackoff  time.Duration
	SimulateStep    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Python == "" {
		c.Python = "python"
	}
	if c.FFmpeg == "" {
		c.FFmpeg = "ffmpeg"
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = 1
	}
	if c.PublishAttempts <= 0 {
		c.PublishAttempts = 3
	}
	if c.PublishBackoff <= 0 {
		c.PublishBackoff = time.Second
	}
	if c.SimulateStep <= 0 {
		c.SimulateStep = time.Second
	}
	return c
}

// New picks WhisperTranscriber when Whisper and ffmpeg are installed and
// simulation is off, SimulatedTranscriber otherwise. pub may be nil.
func New(ctx context.Context, cfg Config, ls *storage.LocalStorage, pub Publisher, logger *zap.Logger) queue.Transcriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if !cfg.Simulate {
		err := WhisperAvailable(ctx, cfg.Python, cfg.FFmpeg)
		if err == nil {
			return NewWhisperTranscriber(cfg, ls, pub, logger)
		}
		logger.Warn("whisper not available, using simulated transcriber", zap.Error(err))
	}
	return NewSimulatedTranscriber(cfg, ls, pub, logger)
}

// WhisperAvailable checks that ffmpeg is on PATH and that python can import
// the whisper package.
func WhisperAvailable(ctx context.Context, python, ffmpeg string) error {
	if _, err := exec.LookPath(ffmpeg); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, python, "-c", "import whisper").Run()
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
