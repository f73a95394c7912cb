// Package logging builds the process logger and keeps recent log lines in
// memory for the /api/logs endpoint.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// File receives a copy of every line when set.
	File string
	// Buffer receives a copy of every line when set.
	Buffer *LogBuffer
	// Stdout defaults to os.Stdout.
	Stdout io.Writer
}

// New constructs a zap logger writing to stdout plus the optional file and
// buffer. Info and above omit the caller; debug includes it.
func New(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	syncers := []zapcore.WriteSyncer{zapcore.AddSync(stdout)}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, fmt.Errorf("ensure log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		syncers = append(syncers, zapcore.AddSync(f))
	}
	if opts.Buffer != nil {
		syncers = append(syncers, zapcore.AddSync(opts.Buffer))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), level)
	zopts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if level <= zapcore.DebugLevel {
		zopts = append(zopts, zap.AddCaller())
	}
	return zap.New(core, zopts...), nil
}

// ParseLevel maps debug, info, warn and error onto zap levels. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("log level: unsupported value %q", level)
	}
}
