package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// Store persists task records and daily statistics.
type Store interface {
	Save(ctx context.Context, rec *task.Record) error
	Get(ctx context.Context, id string) (*task.Record, error)
	List(ctx context.Context, filter task.Filter) ([]*task.Record, error)
	Delete(ctx context.Context, id string) error
	AddStats(ctx context.Context, delta task.StatsDelta) error
	// Stats returns rows whose day lies in [from, to], both YYYY-MM-DD.
	Stats(ctx context.Context, from, to string) ([]task.DailyStats, error)
	DeleteStatsBefore(ctx context.Context, day string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options selects and locates the database.
type Options struct {
	// Driver is "sqlite" or "postgres". Empty picks postgres when DSN looks
	// like a postgres URL, sqlite otherwise.
	Driver string
	Path   string
	DSN    string
}

// Open connects to the configured database and ensures the schema.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	if driver == "" {
		if strings.HasPrefix(opts.DSN, "postgres://") || strings.HasPrefix(opts.DSN, "postgresql://") {
			driver = "postgres"
		} else {
			driver = "sqlite"
		}
	}
	switch driver {
	case "sqlite", "sqlite3":
		return NewSQLiteStore(ctx, opts.Path)
	case "postgres", "postgresql", "pgx":
		return NewPostgresStore(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

const recordColumns = `id, url, model_name, options, status, progress, current_stage, error_message,
	created_at, started_at, completed_at, updated_at,
	audio_file_path, result_file_path, title, duration, file_size, result_url, language`

const statsColumns = `day, model, tasks_created, tasks_completed, tasks_failed, tasks_cancelled,
	total_processing_time, total_audio_duration, total_file_size`

func encodeOptions(opts task.Options) (string, error) {
	if opts == nil {
		opts = task.Options{}
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("encode options: %w", err)
	}
	return string(raw), nil
}

func decodeOptions(raw []byte) (task.Options, error) {
	opts := task.Options{}
	if len(raw) == 0 {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	return opts, nil
}

// dialect captures the differences between the SQL backends.
type dialect struct {
	// placeholder returns the bind marker for the n-th argument (1-based).
	placeholder func(n int) string
	like        string
	timeValue   func(t time.Time) any
}

// listQuery renders the WHERE/ORDER/LIMIT tail for filter.
func (d dialect) listQuery(filter task.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	if len(filter.Statuses) > 0 {
		marks := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			marks = append(marks, bind(string(st)))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + search + "%"
		where = append(where, fmt.Sprintf("(title %s %s OR url %s %s OR id = %s)",
			d.like, bind(pattern), d.like, bind(pattern), bind(search)))
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= "+bind(d.timeValue(filter.Since)))
	}
	if !filter.Until.IsZero() {
		where = append(where, "created_at < "+bind(d.timeValue(filter.Until)))
	}

	var b strings.Builder
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if filter.Ascending {
		b.WriteString(" ORDER BY created_at ASC, id ASC")
	} else {
		b.WriteString(" ORDER BY created_at DESC, id DESC")
	}
	if filter.Limit > 0 {
		b.WriteString(" LIMIT " + bind(filter.Limit))
		if filter.Offset > 0 {
			b.WriteString(" OFFSET " + bind(filter.Offset))
		}
	}
	return b.String(), args
}
