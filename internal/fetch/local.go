package fetch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/codebuildervaibhav/mediascribe/internal/queue"
	"github.com/codebuildervaibhav/mediascribe/internal/storage"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// LocalFetcher brings a file from the local filesystem into the task's
// media directory. Uploads are moved, other files copied.
type LocalFetcher struct {
	storage   *storage.LocalStorage
	uploadDir string
}

// NewLocalFetcher creates a fetcher for file:// and absolute path sources.
func NewLocalFetcher(ls *storage.LocalStorage, uploadDir string) *LocalFetcher {
	return &LocalFetcher{storage: ls, uploadDir: uploadDir}
}

// LocalPath resolves a file:// URL or an absolute path.
func LocalPath(sourceRef string) (string, error) {
	ref := strings.TrimSpace(sourceRef)
	if strings.HasPrefix(ref, "file://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("invalid file URL: %w", err)
		}
		ref = u.Path
	}
	if !filepath.IsAbs(ref) {
		return "", fmt.Errorf("path %q is not absolute", ref)
	}
	return filepath.Clean(ref), nil
}

// Fetch implements the local leg of Router.
func (f *LocalFetcher) Fetch(ctx context.Context, sourceRef string, _ task.Options, progress queue.ProgressFunc) (task.Media, error) {
	src, err := LocalPath(sourceRef)
	if err != nil {
		return task.Media{}, &task.FetchError{Reason: err.Error(), Err: err}
	}
	info, err := os.Stat(src)
	if err != nil {
		return task.Media{}, &task.FetchError{Reason: "source file not found", Err: err}
	}
	if info.IsDir() {
		return task.Media{}, &task.FetchError{Reason: "source is a directory"}
	}

	dir, err := taskDir(ctx, f.storage)
	if err != nil {
		return task.Media{}, &task.FetchError{Reason: "cannot prepare media directory", Err: err}
	}
	dst := filepath.Join(dir, "audio"+strings.ToLower(filepath.Ext(src)))
	title := uploadTitle(filepath.Base(src))

	if f.isUpload(src) {
		if err := os.Rename(src, dst); err == nil {
			progress(90, "copying")
			return task.Media{Ref: dst, Title: title}, nil
		}
	}

	progress(0, "copying")
	if err := copyFile(ctx, src, dst, info.Size(), progress); err != nil {
		if ctx.Err() != nil {
			return task.Media{Ref: existing(dst)}, ctx.Err()
		}
		return task.Media{Ref: existing(dst)}, &task.FetchError{Reason: "failed to copy source file", Err: err}
	}
	if f.isUpload(src) {
		_ = os.Remove(src)
	}
	return task.Media{Ref: dst, Title: title}, nil
}

func (f *LocalFetcher) isUpload(path string) bool {
	return IsUnder(f.uploadDir, path)
}

// IsUnder reports whether path lies strictly inside dir.
func IsUnder(dir, path string) bool {
	if dir == "" {
		return false
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// uploadTitle strips the extension and the "<uuid>_" prefix uploads carry.
func uploadTitle(name string) string {
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if i := strings.IndexByte(name, '_'); i == 36 {
		name = name[i+1:]
	}
	return name
}

func copyFile(ctx context.Context, src, dst string, size int64, progress queue.ProgressFunc) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	r := &progressReader{r: &ctxReader{ctx: ctx, r: in}, total: size, progress: progress, label: "copying"}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
