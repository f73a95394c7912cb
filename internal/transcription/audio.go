package transcription

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var ffmpegDuration = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// NormalizeAudio converts any audio or video file to 16kHz mono WAV in
// outputDir and returns the new path together with the input duration in
// seconds as reported by ffmpeg (0 when unknown).
func NormalizeAudio(ctx context.Context, ffmpeg, inputPath, outputDir string) (string, float64, error) {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create work directory: %w", err)
	}
	outputPath := filepath.Join(outputDir, fmt.Sprintf("normalized_%s.wav", uuid.New().String()))

	// FFmpeg command: convert to 16kHz mono WAV
	cmd := exec.CommandContext(ctx, ffmpeg,
		"-i", inputPath,
		"-ar", "16000",      // 16kHz sample rate
		"-ac", "1",          // Mono
		"-c:a", "pcm_s16le", // 16-bit PCM
		"-y",                // Overwrite output
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(outputPath)
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, fmt.Errorf("ffmpeg failed: %v: %s", err, lastOutputLine(output))
	}
	return outputPath, parseFFmpegDuration(string(output)), nil
}

func parseFFmpegDuration(output string) float64 {
	m := ffmpegDuration.FindStringSubmatch(output)
	if m == nil {
		return 0
	}
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	sec, _ := strconv.ParseFloat(m[3], 64)
	return float64(h*3600+mins*60) + sec
}

func lastOutputLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

var supportedExtensions = []string{
	".mp3", ".wav", ".m4a", ".ogg", ".opus", ".flac", ".webm", ".aac", ".wma",
	".mp4", ".mkv", ".mov",
}

// ValidateAudioFormat checks if the file extension is one ffmpeg is expected
// to decode.
func ValidateAudioFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, format := range supportedExtensions {
		if ext == format {
			return true
		}
	}
	return false
}
