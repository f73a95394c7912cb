package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codebuildervaibhav/mediascribe/internal/queue"
	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

var (
	_ Store                 = (*SQLiteStore)(nil)
	_ Store                 = (*PostgresStore)(nil)
	_ queue.TaskStore       = (*SQLiteStore)(nil)
	_ queue.StatsRecorder   = (*SQLiteStore)(nil)
	_ queue.ArtifactRemover = (*LocalStorage)(nil)
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "db", "mediascribe.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := task.New("https://example.com/watch?v=1", "medium", task.Options{task.OptOutputFormat: "md", task.OptTitle: "Lecture"})
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusPending || got.StartedAt != nil || got.CompletedAt != nil {
		t.Fatalf("unexpected pending record: %+v", got)
	}
	if got.Options.OutputFormat() != "md" || got.Title != "Lecture" {
		t.Fatalf("options/title not persisted: %+v", got)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}

	now := time.Now().UTC()
	if err := rec.Transition(task.StatusFetching, now); err != nil {
		t.Fatal(err)
	}
	if err := rec.Transition(task.StatusTranscribing, now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := rec.Transition(task.StatusCompleted, now.Add(3*time.Second)); err != nil {
		t.Fatal(err)
	}
	rec.Progress = 100
	rec.ResultArtifactRef = "/data/out/result.md"
	rec.ResultBytes = 512
	rec.MediaDuration = 61.5
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	got, err = store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusCompleted || got.Progress != 100 || got.ResultArtifactRef != rec.ResultArtifactRef {
		t.Fatalf("update not persisted: %+v", got)
	}
	if got.StartedAt == nil || got.CompletedAt == nil || got.ProcessingTime() != 3*time.Second {
		t.Fatalf("timestamps not persisted: started=%v completed=%v", got.StartedAt, got.CompletedAt)
	}
	if got.ResultBytes != 512 || got.MediaDuration != 61.5 {
		t.Fatalf("sizes not persisted: %+v", got)
	}
}

func TestSQLiteStoreGetAndDeleteMissing(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if _, err := store.Get(ctx, "task_missing"); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("Get missing = %v", err)
	}
	if err := store.Delete(ctx, "task_missing"); !errors.Is(err, task.ErrNotFound) {
		t.Fatalf("Delete missing = %v", err)
	}
}

func TestSQLiteStoreListFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i, title := range []string{"Alpha talk", "beta podcast", "Gamma lecture", "alpha interview"} {
		rec := task.New("https://example.com/v/"+title, "base", nil)
		rec.ID = task.NewID(base) + string(rune('a'+i))
		rec.Title = title
		rec.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		rec.UpdatedAt = rec.CreatedAt
		if i%2 == 1 {
			rec.Status = task.StatusCancelled
		}
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
		ids = append(ids, rec.ID)
	}

	all, err := store.List(ctx, task.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 4 || all[0].ID != ids[3] {
		t.Fatalf("default order wrong: %d records, first %s", len(all), all[0].ID)
	}

	asc, _ := store.List(ctx, task.Filter{Ascending: true, Limit: 2, Offset: 1})
	if len(asc) != 2 || asc[0].ID != ids[1] || asc[1].ID != ids[2] {
		t.Fatalf("paged ascending = %v", recordIDs(asc))
	}

	cancelled, _ := store.List(ctx, task.Filter{Statuses: []task.Status{task.StatusCancelled}})
	if len(cancelled) != 2 {
		t.Fatalf("status filter returned %v", recordIDs(cancelled))
	}

	alpha, _ := store.List(ctx, task.Filter{Search: "alpha"})
	if len(alpha) != 2 {
		t.Fatalf("search returned %v", recordIDs(alpha))
	}

	window, _ := store.List(ctx, task.Filter{Since: base.Add(time.Hour), Until: base.Add(3 * time.Hour)})
	if len(window) != 2 {
		t.Fatalf("time window returned %v", recordIDs(window))
	}

	if err := store.Delete(ctx, ids[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if rest, _ := store.List(ctx, task.Filter{}); len(rest) != 3 {
		t.Fatalf("after delete %d records", len(rest))
	}
}

func TestSQLiteStoreStatsAccumulate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC)

	deltas := []task.StatsDelta{
		{Day: day, Model: "base", Created: 1},
		{Day: day, Model: "base", Created: 1},
		{Day: day, Model: "base", Completed: 1, ProcessingSeconds: 30, MediaSeconds: 90, ResultBytes: 100},
		{Day: day, Model: "medium", Failed: 1},
		{Day: day.AddDate(0, 0, -40), Model: "base", Cancelled: 1},
	}
	for _, d := range deltas {
		if err := store.AddStats(ctx, d); err != nil {
			t.Fatalf("AddStats: %v", err)
		}
	}

	rows, err := store.Stats(ctx, "2025-03-01", "2025-03-01")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %+v", rows)
	}
	baseRow := rows[0]
	if baseRow.Model != "base" || baseRow.Created != 2 || baseRow.Completed != 1 || baseRow.MediaSeconds != 90 || baseRow.ResultBytes != 100 {
		t.Fatalf("base row = %+v", baseRow)
	}

	summary := task.SummarizeStats("2025-03-01", "2025-03-01", rows)
	if summary.AverageProcessingSpeed != 3 || summary.ModelUsage["base"] != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	removed, err := store.DeleteStatsBefore(ctx, "2025-02-01")
	if err != nil || removed != 1 {
		t.Fatalf("DeleteStatsBefore = %d, %v", removed, err)
	}
}

func TestPostgresDialectPlaceholders(t *testing.T) {
	d := dialect{
		placeholder: func(n int) string { return "$" + string(rune('0'+n)) },
		like:        "ILIKE",
		timeValue:   func(t time.Time) any { return t },
	}
	tail, args := d.listQuery(task.Filter{
		Statuses: []task.Status{task.StatusPending, task.StatusFailed},
		Search:   "talk",
		Limit:    10,
		Offset:   20,
	})
	want := " WHERE status IN ($1, $2) AND (title ILIKE $3 OR url ILIKE $4 OR id = $5) ORDER BY created_at DESC, id DESC LIMIT $6 OFFSET $7"
	if tail != want {
		t.Fatalf("tail =\n%s\nwant\n%s", tail, want)
	}
	if len(args) != 7 || args[2] != "%talk%" || args[4] != "talk" {
		t.Fatalf("args = %v", args)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "mysql"})
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("Open = %v", err)
	}
}

func recordIDs(recs []*task.Record) []string {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	return ids
}
