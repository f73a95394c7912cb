package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/mediascribe/internal/events"
	"github.com/codebuildervaibhav/mediascribe/internal/logging"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

type fakeEngine struct {
	mu         sync.Mutex
	recs       map[string]*task.Record
	submitted  []*task.Record
	cancelled  []string
	active     []string
	depth      int
	closing    bool
	lastFilter task.Filter
	listErr    error
	deleteErr  error
	events     *events.Broadcaster
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{recs: map[string]*task.Record{}, events: events.NewBroadcaster(8, nil)}
}

func (f *fakeEngine) put(rec *task.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[rec.ID] = rec
}

func (f *fakeEngine) SubmitRecord(_ context.Context, rec *task.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, rec)
	f.recs[rec.ID] = rec
	return nil
}

func (f *fakeEngine) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeEngine) GetStatus(_ context.Context, id string) (*task.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	return rec.Clone(), nil
}

func (f *fakeEngine) List(_ context.Context, filter task.Filter) ([]*task.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*task.Record
	for _, rec := range f.recs {
		out = append(out, rec.Clone())
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeEngine) Delete(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.recs[id]; !ok {
		return task.ErrNotFound
	}
	delete(f.recs, id)
	return nil
}

func (f *fakeEngine) Subscribe(id string) (<-chan events.Event, func()) {
	return f.events.Subscribe(id)
}

func (f *fakeEngine) Active() []string     { return f.active }
func (f *fakeEngine) QueueDepth() int      { return f.depth }
func (f *fakeEngine) Workers() int         { return 3 }
func (f *fakeEngine) Accepting() bool      { return !f.closing }
func (f *fakeEngine) DroppedEvents() int64 { return 0 }

type fakeStats struct {
	rows    []task.DailyStats
	from    string
	to      string
	pingErr error
}

func (s *fakeStats) Stats(_ context.Context, from, to string) ([]task.DailyStats, error) {
	s.from, s.to = from, to
	return s.rows, nil
}

func (s *fakeStats) Ping(context.Context) error { return s.pingErr }

type testEnv struct {
	app       *fiber.App
	engine    *fakeEngine
	stats     *fakeStats
	uploadDir string
}

func newTestEnv(t *testing.T, maxActive int) *testEnv {
	t.Helper()
	env := &testEnv{
		engine:    newFakeEngine(),
		stats:     &fakeStats{},
		uploadDir: filepath.Join(t.TempDir(), "uploads"),
	}
	logs := logging.NewLogBuffer(10)
	fmt.Fprintln(logs, "server started")
	env.app = NewApp(Options{
		Engine:         env.engine,
		Stats:          env.stats,
		Logs:           logs,
		UploadDir:      env.uploadDir,
		MaxFileSizeMB:  5,
		MaxActiveTasks: maxActive,
	})
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(body) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), fiber.MIMEApplicationJSON) {
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("decode %s: %v", body, err)
		}
	}
	return resp.StatusCode, out
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	return req
}

func TestCreateTask(t *testing.T) {
	env := newTestEnv(t, 0)
	status, body := env.do(t, jsonRequest(http.MethodPost, "/api/tasks",
		`{"url":"https://www.youtube.com/watch?v=abc","options":{"output_format":"md","keep_media":false,"language":"en"}}`))
	if status != fiber.StatusOK {
		t.Fatalf("status = %d body = %v", status, body)
	}
	if body["status"] != "pending" || body["model_name"] != "medium" {
		t.Fatalf("body = %v", body)
	}
	if len(env.engine.submitted) != 1 {
		t.Fatalf("submitted = %d", len(env.engine.submitted))
	}
	opts := env.engine.submitted[0].Options
	if opts.OutputFormat() != "md" || opts.KeepMedia() || opts.Language() != "en" {
		t.Fatalf("options = %v", opts)
	}
}

func TestCreateTaskUsesConfiguredDefaultModel(t *testing.T) {
	engine := newFakeEngine()
	app := NewApp(Options{
		Engine:       engine,
		Stats:        &fakeStats{},
		UploadDir:    t.TempDir(),
		DefaultModel: "small",
	})
	env := &testEnv{app: app, engine: engine}

	status, body := env.do(t, jsonRequest(http.MethodPost, "/api/tasks", `{"url":"https://example.com/talk.mp3"}`))
	if status != fiber.StatusOK || body["model_name"] != "small" {
		t.Fatalf("status = %d body = %v", status, body)
	}
	status, body = env.do(t, jsonRequest(http.MethodPost, "/api/tasks", `{"url":"https://example.com/talk.mp3","model_name":"tiny"}`))
	if status != fiber.StatusOK || body["model_name"] != "tiny" {
		t.Fatalf("status = %d body = %v", status, body)
	}

	status, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/system/models", nil))
	if status != fiber.StatusOK || body["default"] != "small" {
		t.Fatalf("status = %d body = %v", status, body)
	}
}

func TestCreateTaskRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"missing url", `{"model_name":"base"}`, CodeInvalidURL},
		{"unsupported scheme", `{"url":"ftp://example.com/a.mp3"}`, CodeInvalidURL},
		{"local path", `{"url":"/etc/passwd"}`, CodeInvalidURL},
		{"unknown model", `{"url":"https://example.com/v","model_name":"gigantic"}`, CodeInvalidModel},
		{"bad format", `{"url":"https://example.com/v","options":{"output_format":"pdf"}}`, CodeBadRequest},
		{"bad body", `{"url":`, CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0)
			status, body := env.do(t, jsonRequest(http.MethodPost, "/api/tasks", tt.body))
			if status != fiber.StatusBadRequest || body["code"] != tt.code {
				t.Fatalf("status = %d body = %v", status, body)
			}
			if len(env.engine.submitted) != 0 {
				t.Fatal("nothing should be submitted")
			}
		})
	}
}

func TestCreateTaskAdmission(t *testing.T) {
	env := newTestEnv(t, 2)
	env.engine.active = []string{"task_a"}
	env.engine.depth = 1
	status, body := env.do(t, jsonRequest(http.MethodPost, "/api/tasks", `{"url":"https://example.com/v"}`))
	if status != fiber.StatusServiceUnavailable || body["code"] != CodeOverloaded {
		t.Fatalf("status = %d body = %v", status, body)
	}

	env.engine.depth = 0
	env.engine.closing = true
	status, body = env.do(t, jsonRequest(http.MethodPost, "/api/tasks", `{"url":"https://example.com/v"}`))
	if status != fiber.StatusServiceUnavailable || body["code"] != CodeShutdown {
		t.Fatalf("status = %d body = %v", status, body)
	}
}

func TestGetCancelDelete(t *testing.T) {
	env := newTestEnv(t, 0)
	pending := task.New("https://example.com/a", "base", nil)
	done := task.New("https://example.com/b", "base", nil)
	now := time.Now().UTC()
	for _, st := range []task.Status{task.StatusFetching, task.StatusTranscribing, task.StatusCompleted} {
		if err := done.Transition(st, now); err != nil {
			t.Fatal(err)
		}
	}
	env.engine.put(pending)
	env.engine.put(done)

	status, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/tasks/"+pending.ID, nil))
	if status != fiber.StatusOK || body["task_id"] != pending.ID {
		t.Fatalf("get: %d %v", status, body)
	}
	status, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/tasks/task_missing", nil))
	if status != fiber.StatusNotFound || body["code"] != CodeNotFound {
		t.Fatalf("get missing: %d %v", status, body)
	}

	status, body = env.do(t, httptest.NewRequest(http.MethodPost, "/api/tasks/"+pending.ID+"/cancel", nil))
	if status != fiber.StatusOK || body["status"] != "cancelling" {
		t.Fatalf("cancel: %d %v", status, body)
	}
	if len(env.engine.cancelled) != 1 || env.engine.cancelled[0] != pending.ID {
		t.Fatalf("cancelled = %v", env.engine.cancelled)
	}
	status, body = env.do(t, httptest.NewRequest(http.MethodPost, "/api/tasks/"+done.ID+"/cancel", nil))
	if status != fiber.StatusConflict || body["code"] != CodeTaskFinished {
		t.Fatalf("cancel finished: %d %v", status, body)
	}

	env.engine.deleteErr = fmt.Errorf("%w: task is still running", task.ErrInvalidState)
	status, body = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/tasks/"+pending.ID, nil))
	if status != fiber.StatusConflict || body["code"] != CodeTaskRunning {
		t.Fatalf("delete running: %d %v", status, body)
	}
	env.engine.deleteErr = nil
	status, body = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/tasks/"+done.ID, nil))
	if status != fiber.StatusOK || body["deleted"] != true {
		t.Fatalf("delete: %d %v", status, body)
	}
}

func TestListTasks(t *testing.T) {
	env := newTestEnv(t, 0)
	for i := 0; i < 3; i++ {
		env.engine.put(task.New(fmt.Sprintf("https://example.com/%d", i), "base", nil))
	}
	status, body := env.do(t, httptest.NewRequest(http.MethodGet,
		"/api/tasks?status=pending,failed&search=example&page=2&limit=2&date_from=2025-01-01&date_to=2025-01-31", nil))
	if status != fiber.StatusOK {
		t.Fatalf("status = %d body = %v", status, body)
	}
	f := env.engine.lastFilter
	if len(f.Statuses) != 2 || f.Search != "example" || f.Limit != 3 || f.Offset != 2 {
		t.Fatalf("filter = %+v", f)
	}
	if f.Until.Format("2006-01-02") != "2025-02-01" {
		t.Fatalf("until = %v", f.Until)
	}
	if tasks := body["tasks"].([]any); len(tasks) != 2 || body["has_more"] != true {
		t.Fatalf("body = %v", body)
	}

	status, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/tasks?status=sleeping", nil))
	if status != fiber.StatusBadRequest {
		t.Fatalf("bad status filter: %d %v", status, body)
	}

	env.engine.listErr = fmt.Errorf("%w: disk I/O error", task.ErrStoreUnavailable)
	status, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	if status != fiber.StatusServiceUnavailable || body["code"] != CodeStore {
		t.Fatalf("store down: %d %v", status, body)
	}
}

func TestFileDownloads(t *testing.T) {
	env := newTestEnv(t, 0)
	result := filepath.Join(t.TempDir(), "20250301_120000_talk.txt")
	if err := os.WriteFile(result, []byte("hello transcript"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := task.New("https://example.com/a", "base", nil)
	rec.ResultArtifactRef = result
	rec.MediaArtifactRef = filepath.Join(t.TempDir(), "gone.m4a")
	env.engine.put(rec)

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/api/files/"+rec.ID+"/result", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK || string(data) != "hello transcript" {
		t.Fatalf("result: %d %q", resp.StatusCode, data)
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "20250301_120000_talk.txt") {
		t.Fatalf("content disposition = %q", resp.Header.Get("Content-Disposition"))
	}

	status, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/files/"+rec.ID+"/media", nil))
	if status != fiber.StatusNotFound || body["code"] != CodeNotFound {
		t.Fatalf("missing media: %d %v", status, body)
	}
}

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(content)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	env := newTestEnv(t, 0)
	status, body := env.do(t, multipartUpload(t, "Team Meeting.mp3", []byte("ID3 audio"), map[string]string{
		"model_name":    "small",
		"output_format": "json",
	}))
	if status != fiber.StatusOK {
		t.Fatalf("status = %d body = %v", status, body)
	}
	if len(env.engine.submitted) != 1 {
		t.Fatal("upload was not submitted")
	}
	rec := env.engine.submitted[0]
	if rec.ModelSelector != "small" || rec.Title != "Team Meeting" || rec.Options.OutputFormat() != "json" {
		t.Fatalf("record = %+v", rec)
	}
	if !strings.HasPrefix(rec.SourceRef, "file://") {
		t.Fatalf("source = %s", rec.SourceRef)
	}
	entries, err := os.ReadDir(env.uploadDir)
	if err != nil || len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), "_Team Meeting.mp3") {
		t.Fatalf("upload dir = %v (%v)", entries, err)
	}

	status, body = env.do(t, multipartUpload(t, "notes.txt", []byte("text"), nil))
	if status != fiber.StatusBadRequest || body["code"] != "ERR_INVALID_FORMAT" {
		t.Fatalf("bad format: %d %v", status, body)
	}
	status, body = env.do(t, multipartUpload(t, "a.wav", []byte("RIFF"), map[string]string{"model_name": "huge"}))
	if status != fiber.StatusBadRequest || body["code"] != CodeInvalidModel {
		t.Fatalf("bad model: %d %v", status, body)
	}
	if entries, _ := os.ReadDir(env.uploadDir); len(entries) != 1 {
		t.Fatalf("rejected uploads must not be kept: %v", entries)
	}
}

func TestSystemEndpoints(t *testing.T) {
	env := newTestEnv(t, 0)
	env.stats.rows = []task.DailyStats{
		{Day: "2025-03-01", Model: "base", Created: 2, Completed: 1, ProcessingSeconds: 10, MediaSeconds: 30},
	}

	status, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/system/stats?from=2025-03-01&to=2025-03-07", nil))
	if status != fiber.StatusOK {
		t.Fatalf("stats: %d %v", status, body)
	}
	summary := body["summary"].(map[string]any)
	if summary["tasks_created"].(float64) != 2 || summary["average_processing_speed"].(float64) != 3 {
		t.Fatalf("summary = %v", summary)
	}
	if env.stats.from != "2025-03-01" || env.stats.to != "2025-03-07" {
		t.Fatalf("range = %s..%s", env.stats.from, env.stats.to)
	}
	if status, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/api/system/stats?period=year", nil)); status != fiber.StatusBadRequest {
		t.Fatalf("bad period status = %d", status)
	}

	status, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/system/models", nil))
	if status != fiber.StatusOK || body["default"] != "medium" || len(body["models"].([]any)) != 5 {
		t.Fatalf("models: %d %v", status, body)
	}

	status, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))
	if status != fiber.StatusOK || body["workers"].(float64) != 3 || body["accepting"] != true {
		t.Fatalf("status: %d %v", status, body)
	}

	status, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/logs", nil))
	if logs := body["logs"].([]any); status != fiber.StatusOK || len(logs) != 1 || logs[0] != "server started" {
		t.Fatalf("logs: %d %v", status, body)
	}

	status, body = env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if status != fiber.StatusOK || body["status"] != "healthy" {
		t.Fatalf("health: %d %v", status, body)
	}
	env.stats.pingErr = fmt.Errorf("database is locked")
	status, body = env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if status != fiber.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("degraded health: %d %v", status, body)
	}
}

func TestStatsRange(t *testing.T) {
	now := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	tests := []struct {
		period   string
		from, to string
	}{
		{"day", "2025-03-10", "2025-03-10"},
		{"week", "2025-03-04", "2025-03-10"},
		{"month", "2025-02-09", "2025-03-10"},
	}
	for _, tt := range tests {
		from, to, err := statsRange(now, tt.period, "", "")
		if err != nil || from != tt.from || to != tt.to {
			t.Errorf("statsRange(%s) = %s..%s, %v", tt.period, from, to, err)
		}
	}
	if _, _, err := statsRange(now, "", "2025-03-01", ""); err == nil {
		t.Error("expected error for half-open range")
	}
}

func TestWebsocketRouteRequiresUpgrade(t *testing.T) {
	env := newTestEnv(t, 0)
	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/ws/tasks", nil), -1)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestIsPing(t *testing.T) {
	for msg, want := range map[string]bool{"ping": true, " PING ": true, `{"type":"ping"}`: true, "hello": false, `{"type":"x"}`: false} {
		if got := isPing([]byte(msg)); got != want {
			t.Errorf("isPing(%q) = %v", msg, got)
		}
	}
}
