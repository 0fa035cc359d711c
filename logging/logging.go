// Package logging wires the structured, leveled logger the rest of the
// cache uses to report conditions that are expected to be degraded
// operation rather than caller-visible errors: dormant-store I/O
// failures, deserialization failures, and timer faults.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where log output goes and how it rotates. The field
// names mirror the Logger block other services in this codebase configure
// a lumberjack-backed zap core with (log level, rotated file, max size in
// megabytes, max age in days, max backups, and whether to gzip rotated
// files).
type Config struct {
	Level      string
	FilePath   string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// Logger is a thin wrapper so callers in this module don't need to import
// zap directly; it also lets tests swap in a no-op implementation.
type Logger struct {
	z *zap.Logger
}

// New builds a Logger from Config. An empty FilePath logs to stderr.
func New(cfg Config) *Logger {
	level := zapcore.WarnLevel
	if cfg.Level != "" {
		_ = level.UnmarshalText([]byte(cfg.Level))
	}

	var writer zapcore.WriteSyncer
	if cfg.FilePath != "" {
		writer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			Compress:   cfg.Compress,
		})
	} else {
		writer = zapcore.Lock(os.Stderr)
	}

	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(encoder, writer, level)

	return &Logger{z: zap.New(core)}
}

// Noop returns a Logger that discards everything, used as the default by
// components constructed with a nil Logger.
func Noop() *Logger {
	return &Logger{z: zap.NewNop()}
}

func (l *Logger) Warn(msg string, fields ...zap.Field) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Warn(msg, fields...)
}

func (l *Logger) Sync() error {
	if l == nil || l.z == nil {
		return nil
	}
	return l.z.Sync()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
