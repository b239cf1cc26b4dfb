// Package logger wraps zap with lumberjack-backed file rotation, the
// ambient logging stack used throughout this module instead of the
// standard library's log package.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Config controls both the zap encoder level and the lumberjack
// rotation policy backing the file sink.
type Config struct {
	Level      string // debug, info, warn, error; defaults to info
	Filename   string // empty disables the file sink (stderr only)
	MaxSize    int    // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

var global *zap.Logger

// Init builds the package-level logger from cfg. Subsequent calls
// replace the previous logger; the zero Config is valid and logs at
// info level to stderr only.
func Init(cfg Config) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.Lock(zapcore.AddSync(os.Stderr)), level),
	}
	if cfg.Filename != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), level))
	}

	global = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logger: invalid level %q: %w", s, err)
	}
	return level, nil
}

// L returns the package-level logger, initializing a default one (info
// level, stderr only) if Init hasn't been called yet.
func L() *zap.Logger {
	if global == nil {
		_ = Init(Config{})
	}
	return global
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

// With returns a child logger carrying the given structured fields.
func With(fields ...zap.Field) *zap.Logger { return L().With(fields...) }

// Sync flushes any buffered log entries; callers should defer this from
// main after Init.
func Sync() error { return L().Sync() }
