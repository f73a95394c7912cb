package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/mediascribe/internal/cleanup"
	"github.com/codebuildervaibhav/mediascribe/internal/events"
	"github.com/codebuildervaibhav/mediascribe/internal/fetch"
	"github.com/codebuildervaibhav/mediascribe/internal/handlers"
	"github.com/codebuildervaibhav/mediascribe/internal/logging"
	"github.com/codebuildervaibhav/mediascribe/internal/queue"
	"github.com/codebuildervaibhav/mediascribe/internal/storage"
	"github.com/codebuildervaibhav/mediascribe/internal/transcription"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), ctx)
		},
	}
}

func runServer(cmdCtx context.Context, ctx *commandContext) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, ok := transcription.LookupModel(cfg.Whisper.Model); !ok {
		return fmt.Errorf("whisper.model %q is not a supported model", cfg.Whisper.Model)
	}

	// Ensure directories exist
	if err := cleanup.EnsureDirs(cfg.Storage.TempDir, cfg.UploadDir(), cfg.Storage.MediaDir, cfg.Storage.OutputDir); err != nil {
		return err
	}

	logBuffer := logging.NewLogBuffer(logging.DefaultBufferLines)
	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
		Buffer: logBuffer,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	if ctx.configPath != "" {
		logger.Info("configuration loaded", zap.String("path", ctx.configPath))
	}

	// The output dir is never swept, so the lock file survives cleanup.
	lock := flock.New(filepath.Join(cfg.Storage.OutputDir, ".mediascribe.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mediascribe server instance is already running")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release server lock", zap.Error(err))
		}
	}()

	logger.Info("initializing components")

	store, err := storage.Open(signalCtx, storage.Options{
		Driver: cfg.Storage.Driver,
		Path:   cfg.Storage.Database,
		DSN:    cfg.Storage.DSN,
	})
	if err != nil {
		logger.Error("failed to initialize database", zap.Error(err))
		return err
	}
	defer store.Close()

	localStorage := storage.NewLocalStorage(cfg.Storage.OutputDir, cfg.Storage.MediaDir)

	// Google Drive client (optional - may fail if credentials not set up)
	var publisher transcription.Publisher
	if cfg.DriveEnabled() {
		driveClient, err := storage.NewDriveClient(signalCtx,
			cfg.GoogleDrive.CredentialsFile,
			cfg.GoogleDrive.TokenFile,
			cfg.GoogleDrive.FolderName,
		)
		if err != nil {
			logger.Warn("Google Drive not available, transcripts will only be saved locally", zap.Error(err))
		} else {
			publisher = driveClient
			logger.Info("Google Drive integration enabled", zap.String("folder", cfg.GoogleDrive.FolderName))
		}
	} else {
		logger.Info("Google Drive credentials not found - saving locally only")
	}

	router := fetch.NewRouter(fetch.Config{
		ProxyURL:    cfg.Fetch.ProxyURL,
		YtDlpPath:   cfg.Fetch.YtDlpPath,
		Timeout:     cfg.FetchTimeout(),
		ProbeTitles: cfg.Fetch.ProbeTitles,
		UploadDir:   cfg.UploadDir(),
	}, localStorage, logger.Named("fetch"))
	if cfg.Fetch.ProbeTitles {
		router.SetProber(fetch.NewPageProbe(logger.Named("probe")))
	}

	transcriber := transcription.New(signalCtx, transcription.Config{
		Simulate:    cfg.Whisper.Simulate,
		Python:      cfg.Whisper.Python,
		FFmpeg:      cfg.Whisper.FFmpeg,
		Device:      cfg.Whisper.Device,
		WorkDir:     filepath.Join(cfg.Storage.TempDir, "whisper"),
		MaxParallel: cfg.Whisper.MaxParallel,
	}, localStorage, publisher, logger.Named("transcription"))

	broadcaster := events.NewBroadcaster(cfg.Workers.EventBuffer, logger.Named("events"))
	var redisSink *events.RedisSink
	if cfg.Events.RedisURL != "" {
		redisSink, err = events.NewRedisSink(signalCtx, cfg.Events.RedisURL, cfg.Events.RedisChannel, logger.Named("redis"))
		if err != nil {
			logger.Warn("redis event fan-out disabled", zap.Error(err))
			redisSink = nil
		} else {
			broadcaster.AddSink(redisSink)
			logger.Info("publishing task events to redis", zap.String("channel", cfg.Events.RedisChannel))
		}
	}
	defer func() {
		// Close waits for pending sink deliveries.
		broadcaster.Close()
		if redisSink != nil {
			_ = redisSink.Close()
		}
	}()

	sched, err := queue.New(queue.Config{
		MaxConcurrency:  cfg.Workers.Count,
		PersistAttempts: cfg.Workers.PersistAttempts,
		PersistBackoff:  cfg.PersistBackoff(),
		StoreTimeout:    cfg.StoreTimeout(),
		ProgressBucket:  float64(cfg.Workers.ProgressBucket),
		EventBuffer:     cfg.Workers.EventBuffer,
	}, queue.Deps{
		Store:       store,
		Stats:       store,
		Fetcher:     router,
		Transcriber: transcriber,
		Remover:     localStorage,
		Events:      broadcaster,
		Logger:      logger.Named("queue"),
	})
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	// Workers outlive the signal so in-flight tasks can drain on shutdown.
	if err := sched.Start(context.WithoutCancel(cmdCtx)); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	stopScheduler := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := sched.Shutdown(shutdownCtx); err != nil {
			logger.Warn("scheduler shutdown incomplete", zap.Error(err))
		}
	}

	if _, err := cleanup.Reconcile(signalCtx, store, sched, store, logger.Named("reconcile")); err != nil {
		logger.Error("failed to reconcile unfinished tasks", zap.Error(err))
	}

	cleaner, err := cleanup.NewScheduler(cleanup.Config{
		Schedule:           cfg.Cleanup.Schedule,
		TempDirs:           []string{cfg.Storage.TempDir},
		MaxAge:             time.Duration(cfg.Cleanup.MaxAgeHours) * time.Hour,
		StatsRetentionDays: cfg.Cleanup.StatsRetentionDays,
	}, store, logger.Named("cleanup"))
	if err != nil {
		stopScheduler()
		return err
	}
	cleaner.Start(signalCtx)
	defer cleaner.Stop()

	app := handlers.NewApp(handlers.Options{
		Engine:         sched,
		Stats:          store,
		Logs:           logBuffer,
		UploadDir:      cfg.UploadDir(),
		MaxFileSizeMB:  cfg.Limits.MaxFileSizeMB,
		MaxActiveTasks: cfg.Limits.MaxActiveTasks,
		DefaultModel:   cfg.Whisper.Model,
		AccessLog:      true,
		Logger:         logger.Named("http"),
	})

	addr := cfg.Addr()
	logger.Info("server starting",
		zap.String("addr", addr),
		zap.Int("workers", sched.Workers()),
		zap.String("default_model", cfg.Whisper.Model),
		zap.Strings("endpoints", []string{
			"POST /api/tasks", "GET /api/tasks", "GET /api/tasks/:id",
			"POST /api/tasks/:id/cancel", "DELETE /api/tasks/:id",
			"POST /api/upload", "GET /api/files/:id/result", "GET /api/files/:id/media",
			"GET /api/system/status", "GET /api/system/models", "GET /api/system/stats",
			"GET /api/logs", "GET /ws/tasks", "GET /ws/tasks/:id", "GET /health",
		}),
	)

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(addr)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("shutting down gracefully")
	case err := <-listenErr:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
			stopScheduler()
			return err
		}
	}

	if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	stopScheduler()
	logger.Info("server stopped")
	return nil
}
