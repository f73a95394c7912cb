// Package cleanup keeps disk and database usage bounded and repairs task
// state left behind by a previous process.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/task"
)

// StatsPruner drops statistics rows older than a YYYY-MM-DD day.
type StatsPruner interface {
	DeleteStatsBefore(ctx context.Context, day string) (int64, error)
}

// Config configures the sweep.
type Config struct {
	// Schedule is a standard cron spec or a descriptor such as "@every 30m".
	Schedule string
	// TempDirs are swept for files older than MaxAge.
	TempDirs []string
	MaxAge   time.Duration
	// StatsRetentionDays of zero keeps statistics forever.
	StatsRetentionDays int
}

// Report summarizes one sweep.
type Report struct {
	FilesDeleted int
	BytesFreed   int64
	DirsRemoved  int
	StatsDeleted int64
}

// Scheduler handles cleanup of temporary files and old statistics
type Scheduler struct {
	cfg    Config
	stats  StatsPruner
	cron   *cron.Cron
	logger *zap.Logger
	now    func() time.Time
}

// NewScheduler creates a new cleanup scheduler. stats may be nil.
func NewScheduler(cfg Config, stats StatsPruner, logger *zap.Logger) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 30m"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cfg:    cfg,
		stats:  stats,
		cron:   cron.New(),
		logger: logger,
		now:    time.Now,
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("cleanup schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start runs an initial sweep and then follows the schedule.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("running initial cleanup")
	s.RunOnce(ctx)
	s.cron.Start()
	s.logger.Info("cleanup scheduler started",
		zap.String("schedule", s.cfg.Schedule),
		zap.Duration("max_age", s.cfg.MaxAge),
		zap.Int("stats_retention_days", s.cfg.StatsRetentionDays),
	)
}

// Stop stops the cleanup scheduler and waits for a running sweep.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("cleanup scheduler stopped")
}

// RunOnce performs one sweep immediately.
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	var report Report
	cutoff := s.now().Add(-s.cfg.MaxAge)
	for _, dir := range s.cfg.TempDirs {
		s.cleanOldFiles(dir, cutoff, &report)
	}

	if s.stats != nil && s.cfg.StatsRetentionDays > 0 {
		day := task.DayKey(s.now().AddDate(0, 0, -s.cfg.StatsRetentionDays))
		n, err := s.stats.DeleteStatsBefore(ctx, day)
		if err != nil {
			s.logger.Warn("prune statistics failed", zap.String("before", day), zap.Error(err))
		}
		report.StatsDeleted = n
	}

	if report.FilesDeleted > 0 || report.DirsRemoved > 0 || report.StatsDeleted > 0 {
		s.logger.Info("cleanup complete",
			zap.Int("files_deleted", report.FilesDeleted),
			zap.Float64("freed_mb", float64(report.BytesFreed)/(1024*1024)),
			zap.Int("dirs_removed", report.DirsRemoved),
			zap.Int64("stats_rows_deleted", report.StatsDeleted),
		)
	}
	return report
}

// cleanOldFiles removes files modified before cutoff under root, then the
// directories this emptied or that were already empty before cutoff. root
// itself is kept.
func (s *Scheduler) cleanOldFiles(root string, cutoff time.Time, report *Report) {
	var dirs []string
	emptied := make(map[string]bool)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if info.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("delete old file failed", zap.String("path", path), zap.Error(err))
			return nil
		}
		emptied[filepath.Dir(path)] = true
		report.FilesDeleted++
		report.BytesFreed += info.Size()
		s.logger.Debug("deleted old temp file",
			zap.String("file", filepath.Base(path)),
			zap.Duration("age", s.now().Sub(info.ModTime()).Round(time.Hour)),
			zap.Int64("size_kb", info.Size()/1024),
		)
		return nil
	})
	if err != nil {
		s.logger.Warn("error during cleanup", zap.String("dir", root), zap.Error(err))
	}

	// Deepest first so parents empty out after their children.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if !emptied[dir] {
			if info, err := os.Stat(dir); err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
		}
		if os.Remove(dir) == nil {
			emptied[filepath.Dir(dir)] = true
			report.DirsRemoved++
		}
	}
}

// EnsureDirs creates each directory if it doesn't exist
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
