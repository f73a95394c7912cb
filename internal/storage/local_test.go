package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

func sampleResult() *task.TranscriptionResult {
	return &task.TranscriptionResult{
		TaskID:      "task_20250301_120000_abcd1234",
		Title:       "Episode: 12/13?",
		Model:       "base",
		Text:        "hello world",
		Language:    "en",
		Duration:    12.5,
		Segments:    []task.Segment{{Start: 0, End: 2, Text: "hello world"}},
		WordCount:   2,
		ProcessedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSaveTranscriptFormats(t *testing.T) {
	root := t.TempDir()
	ls := NewLocalStorage(filepath.Join(root, "out"), filepath.Join(root, "media"))

	for _, format := range task.SupportedOutputFormats {
		t.Run(format, func(t *testing.T) {
			path, size, err := ls.SaveTranscript(sampleResult(), format)
			if err != nil {
				t.Fatalf("SaveTranscript: %v", err)
			}
			if !strings.HasPrefix(path, filepath.Join(root, "out", "2025", "03", "01")) {
				t.Fatalf("path %s not in dated directory", path)
			}
			if filepath.Ext(path) != "."+format {
				t.Fatalf("extension of %s", path)
			}
			body, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if int64(len(body)) != size {
				t.Fatalf("size = %d, file has %d bytes", size, len(body))
			}
			if !strings.Contains(string(body), "hello world") {
				t.Fatalf("body missing text: %s", body)
			}
			if format == "json" {
				var doc map[string]any
				if err := json.Unmarshal(body, &doc); err != nil {
					t.Fatalf("json output invalid: %v", err)
				}
				if doc["language"] != "en" {
					t.Fatalf("language = %v", doc["language"])
				}
			}
			if _, err := os.Stat(metaPath(path)); err != nil {
				t.Fatalf("metadata sidecar missing: %v", err)
			}
		})
	}

	if _, _, err := ls.SaveTranscript(sampleResult(), "pdf"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestRemoveArtifact(t *testing.T) {
	root := t.TempDir()
	ls := NewLocalStorage(filepath.Join(root, "out"), filepath.Join(root, "media"))

	path, _, err := ls.SaveTranscript(sampleResult(), "txt")
	if err != nil {
		t.Fatal(err)
	}
	if err := ls.RemoveArtifact(path); err != nil {
		t.Fatalf("RemoveArtifact: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("transcript still present: %v", err)
	}
	if _, err := os.Stat(metaPath(path)); !os.IsNotExist(err) {
		t.Fatalf("sidecar still present: %v", err)
	}
	if err := ls.RemoveArtifact(path); err != nil {
		t.Fatalf("second RemoveArtifact: %v", err)
	}

	dir, err := ls.TaskMediaDir("task_1")
	if err != nil {
		t.Fatal(err)
	}
	media := filepath.Join(dir, "audio.m4a")
	if err := os.WriteFile(media, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ls.RemoveArtifact(media); err != nil {
		t.Fatalf("RemoveArtifact media: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("empty task media directory not removed")
	}

	outside := filepath.Join(root, "elsewhere.txt")
	if err := os.WriteFile(outside, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ls.RemoveArtifact(outside); err == nil {
		t.Fatal("expected refusal outside storage roots")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatal("file outside roots was removed")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"Episode: 12/13?": "Episode_ 12_13_",
		"  ..hidden..  ":  "hidden",
		"":                "untitled",
		"a|b<c>d":         "a_b_c_d",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
	if got := SanitizeFilename(strings.Repeat("é", 150)); len([]rune(got)) != 100 {
		t.Fatalf("long name truncated to %d runes", len([]rune(got)))
	}
}
