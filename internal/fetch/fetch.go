// Package fetch acquires the media a task points at: remote pages through
// yt-dlp, Google Drive share links and local uploads.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/queue"
	"github.com/codebuildervaibhav/mediascribe/internal/storage"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// Config tunes the bundled fetchers.
type Config struct {
	// ProxyURL is passed to yt-dlp for tasks with use_proxy set.
	ProxyURL  string
	YtDlpPath string
	// Timeout bounds a single download.
	Timeout time.Duration
	// ProbeTitles resolves missing titles with a headless browser.
	ProbeTitles bool
	// UploadDir holds files received through the API. Local sources found
	// there are moved into the task directory instead of copied.
	UploadDir     string
	DriveEndpoint string
	HTTPClient    *http.Client
}

func (c Config) withDefaults() Config {
	if c.YtDlpPath == "" {
		c.YtDlpPath = "yt-dlp"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Minute
	}
	if c.DriveEndpoint == "" {
		c.DriveEndpoint = "https://drive.google.com/uc"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	return c
}

// TitleProber looks up the display title of a source page.
type TitleProber interface {
	Title(ctx context.Context, pageURL string) (string, error)
}

// Router picks the fetcher for a source reference and validates what it
// produced.
type Router struct {
	local  *LocalFetcher
	drive  *DriveFetcher
	ytdlp  *YtDlpFetcher
	prober TitleProber
	logger *zap.Logger
}

var _ queue.MediaFetcher = (*Router)(nil)

// NewRouter wires the fetchers on top of the media directory of ls.
func NewRouter(cfg Config, ls *storage.LocalStorage, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	logger = logger.Named("fetch")
	r := &Router{
		local:  NewLocalFetcher(ls, cfg.UploadDir),
		drive:  NewDriveFetcher(ls, cfg.DriveEndpoint, cfg.HTTPClient, cfg.Timeout),
		ytdlp:  NewYtDlpFetcher(ls, cfg.YtDlpPath, cfg.ProxyURL, cfg.Timeout, logger),
		logger: logger,
	}
	if cfg.ProbeTitles {
		r.prober = NewPageProbe(logger)
	}
	return r
}

// SetProber replaces the title prober; nil disables probing.
func (r *Router) SetProber(p TitleProber) {
	r.prober = p
}

// SourceKind names the fetcher that handles a source reference.
type SourceKind string

const (
	SourceLocal  SourceKind = "local"
	SourceDrive  SourceKind = "gdrive"
	SourceRemote SourceKind = "remote"
)

// Classify reports which fetcher serves sourceRef.
func Classify(sourceRef string) (SourceKind, error) {
	ref := strings.TrimSpace(sourceRef)
	switch {
	case ref == "":
		return "", errors.New("source is empty")
	case strings.HasPrefix(ref, "file://") || filepath.IsAbs(ref):
		return SourceLocal, nil
	case strings.HasPrefix(ref, "gdrive:"):
		return SourceDrive, nil
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("unsupported source %q", ref)
	}
	host := strings.ToLower(u.Hostname())
	if host == "drive.google.com" || host == "docs.google.com" {
		return SourceDrive, nil
	}
	return SourceRemote, nil
}

// Fetch implements queue.MediaFetcher.
func (r *Router) Fetch(ctx context.Context, sourceRef string, opts task.Options, progress queue.ProgressFunc) (task.Media, error) {
	if progress == nil {
		progress = func(float64, string) {}
	}
	kind, err := Classify(sourceRef)
	if err != nil {
		return task.Media{}, &task.FetchError{Reason: err.Error(), Err: err}
	}

	var media task.Media
	switch kind {
	case SourceLocal:
		media, err = r.local.Fetch(ctx, sourceRef, opts, progress)
	case SourceDrive:
		media, err = r.drive.Fetch(ctx, sourceRef, opts, progress)
	default:
		media, err = r.ytdlp.Fetch(ctx, sourceRef, opts, progress)
	}
	if err != nil {
		return media, err
	}

	progress(98, "validating media")
	if _, err := ValidateMedia(media.Ref); err != nil {
		return media, &task.FetchError{Reason: err.Error(), Err: err}
	}

	if media.Title == "" && kind == SourceRemote && r.prober != nil {
		title, err := r.prober.Title(ctx, sourceRef)
		if err != nil {
			r.logger.Warn("title probe failed", zap.String("source", sourceRef), zap.Error(err))
		} else {
			media.Title = title
		}
	}
	progress(100, "downloaded")
	return media, nil
}

// taskDir returns the media directory for the task running on ctx.
func taskDir(ctx context.Context, ls *storage.LocalStorage) (string, error) {
	id, ok := task.IDFromContext(ctx)
	if !ok {
		id = "adhoc_" + uuid.NewString()[:8]
	}
	return ls.TaskMediaDir(id)
}

// contextError converts an aborted download into the error the pipeline
// expects: the caller's cancellation is passed through untouched, a local
// timeout becomes a FetchError.
func contextError(parent, local context.Context, fallback error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(local.Err(), context.DeadlineExceeded) {
		return &task.FetchError{Reason: "download timed out", Err: local.Err()}
	}
	return fallback
}
