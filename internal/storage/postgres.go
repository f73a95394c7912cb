package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// PostgresStore keeps tasks and statistics in PostgreSQL, for deployments
// that share one database between several hosts.
type PostgresStore struct {
	pool    *pgxpool.Pool
	dialect dialect
}

// NewPostgresStore connects to dsn, verifies the connection and ensures the
// schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{
		pool: pool,
		dialect: dialect{
			placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
			like:        "ILIKE",
			timeValue:   func(t time.Time) any { return t.UTC() },
		},
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			model_name TEXT NOT NULL,
			options JSONB NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			progress DOUBLE PRECISION NOT NULL DEFAULT 0,
			current_stage TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL,
			audio_file_path TEXT NOT NULL DEFAULT '',
			result_file_path TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			duration DOUBLE PRECISION NOT NULL DEFAULT 0,
			file_size BIGINT NOT NULL DEFAULT 0,
			result_url TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);`,
		`CREATE TABLE IF NOT EXISTS task_stats (
			day TEXT NOT NULL,
			model TEXT NOT NULL,
			tasks_created INT NOT NULL DEFAULT 0,
			tasks_completed INT NOT NULL DEFAULT 0,
			tasks_failed INT NOT NULL DEFAULT 0,
			tasks_cancelled INT NOT NULL DEFAULT 0,
			total_processing_time DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_audio_duration DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_file_size BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (day, model)
		);`,
	}
	for _, q := range ddl {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Save inserts or replaces the record.
func (s *PostgresStore) Save(ctx context.Context, rec *task.Record) error {
	opts, err := encodeOptions(rec.Options)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			options = EXCLUDED.options,
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			current_stage = EXCLUDED.current_stage,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at,
			audio_file_path = EXCLUDED.audio_file_path,
			result_file_path = EXCLUDED.result_file_path,
			title = EXCLUDED.title,
			duration = EXCLUDED.duration,
			file_size = EXCLUDED.file_size,
			result_url = EXCLUDED.result_url,
			language = EXCLUDED.language
	`,
		rec.ID, rec.SourceRef, rec.ModelSelector, opts, string(rec.Status), rec.Progress, rec.Stage, rec.ErrorMessage,
		rec.CreatedAt.UTC(), rec.StartedAt, rec.CompletedAt, rec.UpdatedAt.UTC(),
		rec.MediaArtifactRef, rec.ResultArtifactRef, rec.Title, rec.MediaDuration, rec.ResultBytes, rec.ResultURL, rec.Language,
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads one record.
func (s *PostgresStore) Get(ctx context.Context, id string) (*task.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM tasks WHERE id = $1`, id)
	rec, err := scanPostgresRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return rec, nil
}

// List returns records matching filter, newest first unless Ascending.
func (s *PostgresStore) List(ctx context.Context, filter task.Filter) ([]*task.Record, error) {
	tail, args := s.dialect.listQuery(filter)
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM tasks`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*task.Record
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes the record.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	return nil
}

// AddStats adds delta to the row for its day and model.
func (s *PostgresStore) AddStats(ctx context.Context, delta task.StatsDelta) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_stats (`+statsColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (day, model) DO UPDATE SET
			tasks_created = task_stats.tasks_created + EXCLUDED.tasks_created,
			tasks_completed = task_stats.tasks_completed + EXCLUDED.tasks_completed,
			tasks_failed = task_stats.tasks_failed + EXCLUDED.tasks_failed,
			tasks_cancelled = task_stats.tasks_cancelled + EXCLUDED.tasks_cancelled,
			total_processing_time = task_stats.total_processing_time + EXCLUDED.total_processing_time,
			total_audio_duration = task_stats.total_audio_duration + EXCLUDED.total_audio_duration,
			total_file_size = task_stats.total_file_size + EXCLUDED.total_file_size
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
func (s *PostgresStore) Stats(ctx context.Context, from, to string) ([]task.DailyStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+statsColumns+` FROM task_stats
		WHERE day >= $1 AND day <= $2
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
func (s *PostgresStore) DeleteStatsBefore(ctx context.Context, day string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM task_stats WHERE day < $1`, day)
	if err != nil {
		return 0, fmt.Errorf("delete stats: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgresRecord(row pgx.Row) (*task.Record, error) {
	var (
		rec    task.Record
		status string
		opts   []byte
	)
	if err := row.Scan(
		&rec.ID, &rec.SourceRef, &rec.ModelSelector, &opts, &status, &rec.Progress, &rec.Stage, &rec.ErrorMessage,
		&rec.CreatedAt, &rec.StartedAt, &rec.CompletedAt, &rec.UpdatedAt,
		&rec.MediaArtifactRef, &rec.ResultArtifactRef, &rec.Title, &rec.MediaDuration, &rec.ResultBytes, &rec.ResultURL, &rec.Language,
	); err != nil {
		return nil, err
	}
	rec.Status = task.Status(status)
	options, err := decodeOptions(opts)
	if err != nil {
		return nil, err
	}
	rec.Options = options
	return &rec, nil
}
