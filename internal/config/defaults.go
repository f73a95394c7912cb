package config

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Whisper: Whisper{
			Model:       "medium",
			Python:      "python",
			FFmpeg:      "ffmpeg",
			MaxParallel: 1,
		},
		Workers: Workers{
			Count:               3,
			PersistAttempts:     3,
			PersistBackoffMS:    200,
			StoreTimeoutSeconds: 10,
			ProgressBucket:      5,
			EventBuffer:         64,
			ShutdownSeconds:     30,
		},
		Storage: Storage{
			TempDir:   "storage/temp",
			MediaDir:  "storage/audio",
			OutputDir: "storage/results",
			Driver:    "sqlite",
			Database:  "storage/mediascribe.db",
		},
		Fetch: Fetch{
			YtDlpPath:      "yt-dlp",
			TimeoutMinutes: 30,
		},
		Cleanup: Cleanup{
			Schedule:           "@every 30m",
			MaxAgeHours:        24,
			StatsRetentionDays: 90,
		},
		GoogleDrive: GoogleDrive{
			CredentialsFile: "config/credentials.json",
			TokenFile:       "config/token.json",
			FolderName:      "Transcripts",
		},
		Limits: Limits{
			MaxFileSizeMB:  1024,
			MaxActiveTasks: 20,
		},
		Events: Events{
			RedisChannel: "mediascribe:events",
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}
