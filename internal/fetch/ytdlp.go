package fetch

import (
	"bufio"
	"bytes"
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
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/queue"
	"github.com/codebuildervaibhav/mediascribe/internal/storage"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

var downloadProgress = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%`)

// YtDlpFetcher downloads the audio track of a web page with yt-dlp.
type YtDlpFetcher struct {
	storage  *storage.LocalStorage
	binary   string
	proxyURL string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewYtDlpFetcher creates a fetcher that runs binary (yt-dlp by default).
func NewYtDlpFetcher(ls *storage.LocalStorage, binary, proxyURL string, timeout time.Duration, logger *zap.Logger) *YtDlpFetcher {
	if binary == "" {
		binary = "yt-dlp"
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YtDlpFetcher{storage: ls, binary: binary, proxyURL: proxyURL, timeout: timeout, logger: logger}
}

// videoInfo is the subset of yt-dlp's info json we keep.
type videoInfo struct {
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Duration float64 `json:"duration"`
}

// Fetch runs yt-dlp for sourceRef and returns the extracted m4a.
func (f *YtDlpFetcher) Fetch(ctx context.Context, sourceRef string, opts task.Options, progress queue.ProgressFunc) (task.Media, error) {
	dir, err := taskDir(ctx, f.storage)
	if err != nil {
		return task.Media{}, &task.FetchError{Reason: "cannot prepare media directory", Err: err}
	}
	audioPath := filepath.Join(dir, "audio.m4a")

	args := []string{
		"--extract-audio",
		"--audio-format", "m4a",
		"--audio-quality", "0",
		"--output", filepath.Join(dir, "audio.%(ext)s"),
		"--write-info-json",
		"--no-playlist",
		"--newline",
	}
	if opts.Bool(task.OptUseProxy, false) && f.proxyURL != "" {
		args = append(args, "--proxy", f.proxyURL)
	}
	args = append(args, sourceRef)

	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	f.logger.Info("starting yt-dlp", zap.String("source", sourceRef), zap.String("dir", dir))
	cmd := exec.CommandContext(runCtx, f.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return task.Media{}, &task.FetchError{Reason: "cannot start downloader", Err: err}
	}
	stderr := &lastLine{}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return task.Media{}, contextError(ctx, runCtx, &task.FetchError{Reason: fmt.Sprintf("cannot start %s: %v", f.binary, err), Err: err})
	}

	progress(0, "downloading")
	scanDownloadOutput(stdout, progress)
	waitErr := cmd.Wait()

	if waitErr != nil {
		err := contextError(ctx, runCtx, nil)
		if err == nil {
			reason := "download failed"
			if line := stderr.String(); line != "" {
				reason = "download failed: " + line
			}
			err = &task.FetchError{Reason: reason, Err: waitErr}
		}
		return task.Media{Ref: existing(audioPath)}, err
	}

	if _, err := os.Stat(audioPath); err != nil {
		return task.Media{}, &task.FetchError{Reason: "audio file was not produced", Err: err}
	}

	media := task.Media{Ref: audioPath}
	infoPath := filepath.Join(dir, "audio.info.json")
	if info, err := readVideoInfo(infoPath); err != nil {
		f.logger.Warn("read video info failed", zap.String("path", infoPath), zap.Error(err))
	} else {
		media.Title = info.Title
		media.Duration = info.Duration
	}
	_ = os.Remove(infoPath)
	return media, nil
}

// scanDownloadOutput maps yt-dlp's --newline output onto progress. The
// download owns 0..90, post-processing reports 95.
func scanDownloadOutput(r io.Reader, progress queue.ProgressFunc) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if m := downloadProgress.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
				progress(pct*0.9, "downloading")
			}
			continue
		}
		if strings.HasPrefix(line, "[ExtractAudio]") {
			progress(95, "extracting audio")
		}
	}
	// Drain so yt-dlp never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

func readVideoInfo(path string) (videoInfo, error) {
	var info videoInfo
	raw, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return info, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return info, nil
}

func existing(path string) string {
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// lastLine keeps the last non-empty line written to it.
type lastLine struct {
	mu      sync.Mutex
	partial []byte
	last    string
}

func (l *lastLine) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(l.partial[:i])); line != "" {
			l.last = line
		}
		l.partial = l.partial[i+1:]
	}
	return len(p), nil
}

func (l *lastLine) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if line := strings.TrimSpace(string(l.partial)); line != "" {
		return line
	}
	return l.last
}

// Available reports whether the yt-dlp binary can be found.
func (f *YtDlpFetcher) Available() error {
	if _, err := exec.LookPath(f.binary); err != nil {
		return fmt.Errorf("yt-dlp not available: %w", err)
	}
	return nil
}
