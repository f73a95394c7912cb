package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// sqliteTimeLayout is fixed width so stored timestamps sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps tasks and statistics in a local SQLite file.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	dialect dialect
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps the pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &SQLiteStore{
		db:   db,
		path: dbPath,
		dialect: dialect{
			placeholder: func(int) string { return "?" },
			like:        "LIKE",
			timeValue:   func(t time.Time) any { return formatSQLiteTime(t) },
		},
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		model_name TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		progress REAL NOT NULL DEFAULT 0,
		current_stage TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT,
		updated_at TEXT NOT NULL,
		audio_file_path TEXT NOT NULL DEFAULT '',
		result_file_path TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		duration REAL NOT NULL DEFAULT 0,
		file_size INTEGER NOT NULL DEFAULT 0,
		result_url TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);

	CREATE TABLE IF NOT EXISTS task_stats (
		day TEXT NOT NULL,
		model TEXT NOT NULL,
		tasks_created INTEGER NOT NULL DEFAULT 0,
		tasks_completed INTEGER NOT NULL DEFAULT 0,
		tasks_failed INTEGER NOT NULL DEFAULT 0,
		tasks_cancelled INTEGER NOT NULL DEFAULT 0,
		total_processing_time REAL NOT NULL DEFAULT 0,
		total_audio_duration REAL NOT NULL DEFAULT 0,
		total_file_size INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (day, model)
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save inserts or replaces the record.
func (s *SQLiteStore) Save(ctx context.Context, rec *task.Record) error {
	opts, err := encodeOptions(rec.Options)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO tasks (`+recordColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		options = excluded.options,
		status = excluded.status,
		progress = excluded.progress,
		current_stage = excluded.current_stage,
		error_message = excluded.error_message,
		started_at = excluded.started_at,
		completed_at = excluded.completed_at,
		updated_at = excluded.updated_at,
		audio_file_path = excluded.audio_file_path,
		result_file_path = excluded.result_file_path,
		title = excluded.title,
		duration = excluded.duration,
		file_size = excluded.file_size,
		result_url = excluded.result_url,
		language = excluded.language
	`,
		rec.ID, rec.SourceRef, rec.ModelSelector, opts, string(rec.Status), rec.Progress, rec.Stage, rec.ErrorMessage,
		formatSQLiteTime(rec.CreatedAt), formatSQLiteTimePtr(rec.StartedAt), formatSQLiteTimePtr(rec.CompletedAt), formatSQLiteTime(rec.UpdatedAt),
		rec.MediaArtifactRef, rec.ResultArtifactRef, rec.Title, rec.MediaDuration, rec.ResultBytes, rec.ResultURL, rec.Language,
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads one record.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*task.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM tasks WHERE id = ?`, id)
	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return rec, nil
}

// List returns records matching filter, newest first unless Ascending.
func (s *SQLiteStore) List(ctx context.Context, filter task.Filter) ([]*task.Record, error) {
	tail, args := s.dialect.listQuery(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM tasks`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Record
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes the record.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	return nil
}

// AddStats adds delta to the row for its day and model.
func (s *SQLiteStore) AddStats(ctx context.Context, delta task.StatsDelta) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO task_stats (`+statsColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(day, model) DO UPDATE SET
		tasks_created = tasks_created + excluded.tasks_created,
		tasks_completed = tasks_completed + excluded.tasks_completed,
		tasks_failed = tasks_failed + excluded.tasks_failed,
		tasks_cancelled = tasks_cancelled + excluded.tasks_cancelled,
		total_processing_time = total_processing_time + excluded.total_processing_time,
		total_audio_duration = total_audio_duration + excluded.total_audio_duration,
		total_file_size = total_file_size + excluded.total_file_size
	`,
		task.DayKey(delta.Day), delta.Model, delta.Created, delta.Completed, delta.Failed, delta.Cancelled,
		delta.ProcessingSeconds, delta.MediaSeconds, delta.ResultBytes,
	)
	if err != nil {
		return fmt.Errorf("add stats: %w", err)
	}
	return nil
}

// Stats returns the rows between from and to inclusive, ordered by day.
func (s *SQLiteStore) Stats(ctx context.Context, from, to string) ([]task.DailyStats, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+statsColumns+` FROM task_stats
	WHERE day >= ? AND day <= ?
	ORDER BY day, model
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []task.DailyStats
	for rows.Next() {
		var d task.DailyStats
		if err := rows.Scan(&d.Day, &d.Model, &d.Created, &d.Completed, &d.Failed, &d.Cancelled,
			&d.ProcessingSeconds, &d.MediaSeconds, &d.ResultBytes); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteStatsBefore drops statistics rows older than day.
func (s *SQLiteStore) DeleteStatsBefore(ctx context.Context, day string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_stats WHERE day < ?`, day)
	if err != nil {
		return 0, fmt.Errorf("delete stats: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks the connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*task.Record, error) {
	var (
		rec                task.Record
		status, opts       string
		created, updated   string
		started, completed sql.NullString
	)
	if err := row.Scan(
		&rec.ID, &rec.SourceRef, &rec.ModelSelector, &opts, &status, &rec.Progress, &rec.Stage, &rec.ErrorMessage,
		&created, &started, &completed, &updated,
		&rec.MediaArtifactRef, &rec.ResultArtifactRef, &rec.Title, &rec.MediaDuration, &rec.ResultBytes, &rec.ResultURL, &rec.Language,
	); err != nil {
		return nil, err
	}
	rec.Status = task.Status(status)

	var err error
	if rec.Options, err = decodeOptions([]byte(opts)); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return nil, err
	}
	if rec.StartedAt, err = parseSQLiteTimePtr(started); err != nil {
		return nil, err
	}
	if rec.CompletedAt, err = parseSQLiteTimePtr(completed); err != nil {
		return nil, err
	}
	return &rec, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatSQLiteTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatSQLiteTime(*t)
}

func parseSQLiteTime(raw string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

func parseSQLiteTimePtr(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseSQLiteTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
