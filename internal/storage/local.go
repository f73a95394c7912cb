package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// LocalStorage handles transcripts and fetched media on the local filesystem
type LocalStorage struct {
	outputDir string
	mediaDir  string
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(outputDir, mediaDir string) *LocalStorage {
	return &LocalStorage{
		outputDir: outputDir,
		mediaDir:  mediaDir,
	}
}

// OutputDir is the root of saved transcripts.
func (ls *LocalStorage) OutputDir() string { return ls.outputDir }

// MediaDir is the root of fetched media.
func (ls *LocalStorage) MediaDir() string { return ls.mediaDir }

// TaskMediaDir creates and returns the media directory of one task.
func (ls *LocalStorage) TaskMediaDir(taskID string) (string, error) {
	dir := filepath.Join(ls.mediaDir, SanitizeFilename(taskID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media directory: %w", err)
	}
	return dir, nil
}

// SaveTranscript writes result in format (txt, md or json) plus a metadata
// sidecar and returns the transcript path and its size.
func (ls *LocalStorage) SaveTranscript(result *task.TranscriptionResult, format string) (string, int64, error) {
	// Dated directory structure: outputs/2025/01/23/
	now := result.ProcessedAt
	if now.IsZero() {
		now = time.Now()
	}
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))
	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create date directory: %w", err)
	}

	name := result.Title
	if name == "" {
		name = result.TaskID
	}
	// 20250123_143022_podcast_episode.txt
	base := fmt.Sprintf("%s_%s", now.Format("20060102_150405"), SanitizeFilename(name))

	body, err := renderTranscript(result, format)
	if err != nil {
		return "", 0, err
	}
	outPath := filepath.Join(dateDir, base+"."+format)
	if err := os.WriteFile(outPath, body, 0o644); err != nil {
		return "", 0, fmt.Errorf("failed to save transcript: %w", err)
	}

	metadata := map[string]any{
		"task_id":          result.TaskID,
		"title":            result.Title,
		"source":           result.SourceRef,
		"duration_seconds": result.Duration,
		"word_count":       result.WordCount,
		"model_used":       result.Model,
		"language":         result.Language,
		"created_at":       now,
		"local_path":       outPath,
		"simulated":        result.Simulated,
	}
	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath(outPath), metaJSON, 0o644); err != nil {
		return "", 0, fmt.Errorf("failed to save metadata: %w", err)
	}
	return outPath, int64(len(body)), nil
}

func renderTranscript(result *task.TranscriptionResult, format string) ([]byte, error) {
	switch format {
	case "txt":
		return []byte(result.Text), nil
	case "md":
		var b strings.Builder
		title := result.Title
		if title == "" {
			title = "Unknown title"
		}
		b.WriteString("# Transcript\n\n")
		fmt.Fprintf(&b, "**Title**: %s\n\n", title)
		fmt.Fprintf(&b, "**Transcribed at**: %s\n\n", result.ProcessedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(&b, "**Model**: %s\n\n", result.Model)
		b.WriteString("## Content\n\n")
		b.WriteString(result.Text)
		b.WriteString("\n")
		return []byte(b.String()), nil
	case "json":
		segments := result.Segments
		if segments == nil {
			segments = []task.Segment{}
		}
		doc := map[string]any{
			"text":     result.Text,
			"segments": segments,
			"language": result.Language,
			"task_info": map[string]any{
				"task_id":   result.TaskID,
				"model":     result.Model,
				"timestamp": result.ProcessedAt.Format(time.RFC3339),
				"simulated": result.Simulated,
			},
		}
		return json.MarshalIndent(doc, "", "  ")
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// RemoveArtifact deletes a transcript (with its metadata sidecar) or a media
// file. Paths outside the storage roots are refused. Missing files are not
// an error.
func (ls *LocalStorage) RemoveArtifact(ref string) error {
	if ref == "" {
		return nil
	}
	path, err := filepath.Abs(ref)
	if err != nil {
		return err
	}
	root, ok := ls.rootOf(path)
	if !ok {
		return fmt.Errorf("refusing to remove %s outside storage roots", ref)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", ref, err)
	}
	if err := os.Remove(metaPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove metadata for %s: %w", ref, err)
	}
	// Drop the per-task media directory once it is empty.
	if dir := filepath.Dir(path); dir != root {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
	return nil
}

func (ls *LocalStorage) rootOf(path string) (string, bool) {
	for _, root := range []string{ls.outputDir, ls.mediaDir} {
		if root == "" {
			continue
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(abs, path)
		if err == nil && rel != "." && !strings.HasPrefix(rel, "..") {
			return abs, true
		}
	}
	return "", false
}

func metaPath(transcriptPath string) string {
	return strings.TrimSuffix(transcriptPath, filepath.Ext(transcriptPath)) + "_meta.json"
}

// SanitizeFilename replaces characters that are invalid in file names and
// limits the length to 100 characters.
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", "\x00", "_",
	)
	result := strings.TrimSpace(replacer.Replace(name))
	result = strings.Trim(result, ".")
	if result == "" {
		result = "untitled"
	}
	for utf8.RuneCountInString(result) > 100 {
		_, size := utf8.DecodeLastRuneInString(result)
		result = result[:len(result)-size]
	}
	return result
}
