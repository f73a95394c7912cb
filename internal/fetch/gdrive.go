package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/codebuildervaibhav/mediascribe/internal/queue"
	"github.com/codebuildervaibhav/mediascribe/internal/storage"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

var (
	driveFilePath = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	driveIDParam  = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
	driveBareID   = regexp.MustCompile(`^([a-zA-Z0-9_-]{25,40})$`)
)

// DriveFetcher downloads publicly shared Google Drive files.
type DriveFetcher struct {
	storage  *storage.LocalStorage
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// NewDriveFetcher creates a fetcher that downloads from endpoint
// (https://drive.google.com/uc by default).
func NewDriveFetcher(ls *storage.LocalStorage, endpoint string, client *http.Client, timeout time.Duration) *DriveFetcher {
	if endpoint == "" {
		endpoint = "https://drive.google.com/uc"
	}
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &DriveFetcher{storage: ls, endpoint: endpoint, client: client, timeout: timeout}
}

// ExtractDriveFileID extracts the file ID from the usual Google Drive link
// formats, a gdrive:<id> reference or a bare ID.
func ExtractDriveFileID(ref string) string {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "gdrive:")
	// https://drive.google.com/file/d/{ID}/view
	if m := driveFilePath.FindStringSubmatch(ref); len(m) > 1 {
		return m[1]
	}
	// https://drive.google.com/open?id={ID}
	if m := driveIDParam.FindStringSubmatch(ref); len(m) > 1 {
		return m[1]
	}
	if m := driveBareID.FindStringSubmatch(ref); len(m) > 1 {
		return m[1]
	}
	return ""
}

// Fetch streams the shared file into the task's media directory.
func (f *DriveFetcher) Fetch(ctx context.Context, sourceRef string, _ task.Options, progress queue.ProgressFunc) (task.Media, error) {
	fileID := ExtractDriveFileID(sourceRef)
	if fileID == "" {
		return task.Media{}, &task.FetchError{Reason: "invalid Google Drive URL"}
	}
	dir, err := taskDir(ctx, f.storage)
	if err != nil {
		return task.Media{}, &task.FetchError{Reason: "cannot prepare media directory", Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	q := url.Values{"export": {"download"}, "id": {fileID}}
	req, err := http.NewRequestWithContext(runCtx, http.MethodGet, f.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return task.Media{}, &task.FetchError{Reason: "invalid Google Drive URL", Err: err}
	}
	progress(0, "downloading")
	resp, err := f.client.Do(req)
	if err != nil {
		return task.Media{}, contextError(ctx, runCtx, &task.FetchError{Reason: "failed to download file from Google Drive", Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return task.Media{}, &task.FetchError{
			Reason: fmt.Sprintf("file not accessible (may be private or doesn't exist): HTTP %d", resp.StatusCode),
		}
	}

	name := attachmentName(resp.Header.Get("Content-Disposition"))
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".bin"
	}
	outPath := filepath.Join(dir, "audio"+ext)
	out, err := os.Create(outPath)
	if err != nil {
		return task.Media{}, &task.FetchError{Reason: "failed to save downloaded file", Err: err}
	}

	_, copyErr := io.Copy(out, &progressReader{r: resp.Body, total: resp.ContentLength, progress: progress, label: "downloading"})
	closeErr := out.Close()
	if copyErr != nil {
		return task.Media{Ref: outPath}, contextError(ctx, runCtx, &task.FetchError{Reason: "failed to write downloaded file", Err: copyErr})
	}
	if closeErr != nil {
		return task.Media{Ref: outPath}, &task.FetchError{Reason: "failed to write downloaded file", Err: closeErr}
	}

	return task.Media{
		Ref:   outPath,
		Title: strings.TrimSuffix(name, filepath.Ext(name)),
	}, nil
}

func attachmentName(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return filepath.Base(params["filename"])
}

// progressReader reports the share of total read so far, scaled to 0..90.
// Unknown totals report nothing.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress queue.ProgressFunc
	label    string
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if n > 0 && p.total > 0 {
		p.progress(float64(p.read)*90/float64(p.total), p.label)
	}
	return n, err
}
