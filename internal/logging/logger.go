package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger *zap.Logger
	globalMu     sync.RWMutex
)

func init() {
	// Default to a no-op logger until SetGlobal is called; tests and library
	// consumers should not produce output unless they opt in.
	globalLogger = zap.NewNop()
}

// Config holds parameters for creating a logger.
type Config struct {
	Level    string // "trace" (mapped to debug), "debug", "info", "warn", "error"
	Format   string // "pretty" or "json"
	WriteLog bool   // also append entries to LogFile
	LogFile  string // defaults to ./bslive.log
}

// New creates a zap logger from a Config. When WriteLog is set, the returned
// io.Closer must be closed on shutdown to flush the log file; otherwise the
// closer is nil.
func New(cfg Config) (*zap.Logger, io.Closer, error) {
	var lvl zapcore.Level
	switch cfg.Level {
	case "trace", "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "time"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	// The external event stream owns stdout; logs go to stderr.
	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), lvl)

	var closer io.Closer
	if cfg.WriteLog {
		path := cfg.LogFile
		if path == "" {
			path = "bslive.log"
		}
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10,
			MaxBackups: 2,
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.TimeKey = "time"
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(lj), lvl)
		core = zapcore.NewTee(core, fileCore)
		closer = lj
	}

	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return logger, closer, nil
}

// Global returns the global logger.
func Global() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetGlobal sets the global logger.
func SetGlobal(l *zap.Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// Info logs at info level using the global logger.
func Info(msg string, fields ...zap.Field) {
	Global().Info(msg, fields...)
}

// Warn logs at warn level using the global logger.
func Warn(msg string, fields ...zap.Field) {
	Global().Warn(msg, fields...)
}

// Error logs at error level using the global logger.
func Error(msg string, fields ...zap.Field) {
	Global().Error(msg, fields...)
}

// Debug logs at debug level using the global logger.
func Debug(msg string, fields ...zap.Field) {
	Global().Debug(msg, fields...)
}

// With creates a child logger with additional fields.
func With(fields ...zap.Field) *zap.Logger {
	return Global().With(fields...)
}

// Sync flushes any buffered log entries.
func Sync() {
	Global().Sync()
}
