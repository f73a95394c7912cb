package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateCleanup(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Limits.MaxFileSizeMB <= 0 {
		return errors.New("limits.max_file_size_mb must be positive")
	}
	if c.Limits.MaxActiveTasks < 0 {
		return errors.New("limits.max_active_tasks must not be negative")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.Count <= 0 {
		return errors.New("workers.count must be at least 1 (MAX_CONCURRENT_TASKS)")
	}
	if c.Workers.PersistAttempts <= 0 {
		return errors.New("workers.persist_attempts must be at least 1")
	}
	if c.Workers.ProgressBucket <= 0 || c.Workers.ProgressBucket > 100 {
		return errors.New("workers.progress_bucket must be between 1 and 100")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Database == "" {
			return errors.New("storage.database must be set for sqlite")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn must be set for postgres (DATABASE_URL)")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported (sqlite, postgres)", c.Storage.Driver)
	}
	if c.Storage.MediaDir == "" || c.Storage.OutputDir == "" || c.Storage.TempDir == "" {
		return errors.New("storage.temp_dir, storage.media_dir and storage.output_dir must be set")
	}
	return nil
}

func (c *Config) validateCleanup() error {
	if _, err := cron.ParseStandard(c.Cleanup.Schedule); err != nil {
		return fmt.Errorf("cleanup.schedule: %w", err)
	}
	if c.Cleanup.MaxAgeHours <= 0 {
		return errors.New("cleanup.max_age_hours must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	return nil
}
