// Package config loads mediascribe settings from YAML or TOML, a .env file
// and environment variables, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Server is the HTTP listener.
type Server struct {
	Port int    `yaml:"port" toml:"port"`
	Host string `yaml:"host" toml:"host"`
}

// Whisper selects the transcription engine.
type Whisper struct {
	Model       string `yaml:"model" toml:"model"`
	Python      string `yaml:"python" toml:"python"`
	FFmpeg      string `yaml:"ffmpeg" toml:"ffmpeg"`
	Device      string `yaml:"device" toml:"device"`
	MaxParallel int    `yaml:"max_parallel" toml:"max_parallel"`
	Simulate    bool   `yaml:"simulate" toml:"simulate"`
}

// Workers tunes the task engine.
type Workers struct {
	Count               int `yaml:"count" toml:"count"`
	PersistAttempts     int `yaml:"persist_attempts" toml:"persist_attempts"`
	PersistBackoffMS    int `yaml:"persist_backoff_ms" toml:"persist_backoff_ms"`
	StoreTimeoutSeconds int `yaml:"store_timeout_seconds" toml:"store_timeout_seconds"`
	ProgressBucket      int `yaml:"progress_bucket" toml:"progress_bucket"`
	EventBuffer         int `yaml:"event_buffer" toml:"event_buffer"`
	ShutdownSeconds     int `yaml:"shutdown_seconds" toml:"shutdown_seconds"`
}

// Storage locates the database and the artifact directories.
type Storage struct {
	TempDir   string `yaml:"temp_dir" toml:"temp_dir"`
	MediaDir  string `yaml:"media_dir" toml:"media_dir"`
	OutputDir string `yaml:"output_dir" toml:"output_dir"`
	// Driver is sqlite or postgres.
	Driver   string `yaml:"driver" toml:"driver"`
	Database string `yaml:"database" toml:"database"`
	DSN      string `yaml:"dsn" toml:"dsn"`
}

// Fetch configures media acquisition.
type Fetch struct {
	ProxyURL       string `yaml:"proxy_url" toml:"proxy_url"`
	YtDlpPath      string `yaml:"ytdlp_path" toml:"ytdlp_path"`
	TimeoutMinutes int    `yaml:"timeout_minutes" toml:"timeout_minutes"`
	ProbeTitles    bool   `yaml:"probe_titles" toml:"probe_titles"`
}

// Cleanup configures the retention sweep.
type Cleanup struct {
	Schedule           string `yaml:"schedule" toml:"schedule"`
	MaxAgeHours        int    `yaml:"max_age_hours" toml:"max_age_hours"`
	StatsRetentionDays int    `yaml:"stats_retention_days" toml:"stats_retention_days"`
}

// GoogleDrive enables copying transcripts to Drive.
type GoogleDrive struct {
	CredentialsFile string `yaml:"credentials_file" toml:"credentials_file"`
	TokenFile       string `yaml:"token_file" toml:"token_file"`
	FolderName      string `yaml:"folder_name" toml:"folder_name"`
}

// Limits bounds what the API accepts.
type Limits struct {
	MaxFileSizeMB int `yaml:"max_file_size_mb" toml:"max_file_size_mb"`
	// MaxActiveTasks rejects submissions once pending plus running tasks
	// reach it. Zero disables the check.
	MaxActiveTasks int `yaml:"max_active_tasks" toml:"max_active_tasks"`
}

// Events configures cross-process progress fan-out.
type Events struct {
	RedisURL     string `yaml:"redis_url" toml:"redis_url"`
	RedisChannel string `yaml:"redis_channel" toml:"redis_channel"`
}

// Logging configures zap.
type Logging struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	File   string `yaml:"file" toml:"file"`
}

// Config represents the application configuration
type Config struct {
	Server      Server      `yaml:"server" toml:"server"`
	Whisper     Whisper     `yaml:"whisper" toml:"whisper"`
	Workers     Workers     `yaml:"workers" toml:"workers"`
	Storage     Storage     `yaml:"storage" toml:"storage"`
	Fetch       Fetch       `yaml:"fetch" toml:"fetch"`
	Cleanup     Cleanup     `yaml:"cleanup" toml:"cleanup"`
	GoogleDrive GoogleDrive `yaml:"google_drive" toml:"google_drive"`
	Limits      Limits      `yaml:"limits" toml:"limits"`
	Events      Events      `yaml:"events" toml:"events"`
	Logging     Logging     `yaml:"logging" toml:"logging"`
}

// DefaultPaths are tried in order when no config file is given.
var DefaultPaths = []string{"config/config.yaml", "config/config.toml", "mediascribe.toml"}

// Load reads the config file at path (or the first of DefaultPaths that
// exists), applies .env and environment overrides and validates the result.
// It returns the file actually read, empty when running on defaults.
func Load(path string) (*Config, string, error) {
	cfg := Default()

	resolved, err := resolvePath(path)
	if err != nil {
		return nil, "", err
	}
	loadEnvFile(resolved)

	if resolved != "" {
		if err := cfg.decodeFile(resolved); err != nil {
			return nil, "", err
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, resolved, nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("stat config: %w", err)
		}
		return path, nil
	}
	for _, candidate := range DefaultPaths {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat config: %w", err)
		}
	}
	return "", nil
}

// loadEnvFile reads .env next to the config file and in the working
// directory. Variables already set in the environment win.
func loadEnvFile(configPath string) {
	if configPath != "" {
		_ = godotenv.Load(filepath.Join(filepath.Dir(configPath), ".env"))
	}
	_ = godotenv.Load(".env")
}

func (c *Config) decodeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(raw, c)
	default:
		err = yaml.Unmarshal(raw, c)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Workers.Count = getEnvAsInt("MAX_CONCURRENT_TASKS", c.Workers.Count)
	c.Server.Port = getEnvAsInt("PORT", c.Server.Port)
	c.Fetch.ProxyURL = getEnv("PROXY_URL", c.Fetch.ProxyURL)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Events.RedisURL = getEnv("REDIS_URL", c.Events.RedisURL)
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.setDatabaseURL(dsn)
	}
}

// setDatabaseURL accepts postgres URLs and sqlite:///path.
func (c *Config) setDatabaseURL(dsn string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		c.Storage.Driver = "postgres"
		c.Storage.DSN = dsn
	case strings.HasPrefix(dsn, "sqlite:///"):
		c.Storage.Driver = "sqlite"
		c.Storage.Database = strings.TrimPrefix(dsn, "sqlite:///")
	default:
		c.Storage.Driver = "sqlite"
		c.Storage.Database = dsn
	}
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Whisper.Model = strings.ToLower(strings.TrimSpace(c.Whisper.Model))
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// UploadDir receives files posted to the API.
func (c *Config) UploadDir() string {
	return filepath.Join(c.Storage.TempDir, "uploads")
}

// PersistBackoff is the base delay between store retries.
func (c *Config) PersistBackoff() time.Duration {
	return time.Duration(c.Workers.PersistBackoffMS) * time.Millisecond
}

// StoreTimeout bounds a single store call made by a worker.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Workers.StoreTimeoutSeconds) * time.Second
}

// ShutdownTimeout is how long serve waits for running tasks on exit.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Workers.ShutdownSeconds) * time.Second
}

// FetchTimeout bounds one download.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutMinutes) * time.Minute
}

// MaxFileSize is the upload limit in bytes.
func (c *Config) MaxFileSize() int {
	return c.Limits.MaxFileSizeMB * 1024 * 1024
}

// DriveEnabled reports whether Drive credentials are configured and present.
func (c *Config) DriveEnabled() bool {
	if c.GoogleDrive.CredentialsFile == "" {
		return false
	}
	_, err := os.Stat(c.GoogleDrive.CredentialsFile)
	return err == nil
}

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
