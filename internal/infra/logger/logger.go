// Package logger is a centralized wrapper around zap for the whole worker.
// It initializes the log level and formatting, and can repoint the target
// streams (stdout/stderr) at runtime. Uses zap.AtomicLevel for dynamic level
// changes and a mutex for thread safety.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// mu guards the global logger state against concurrent mutation.
	mu sync.Mutex
	// log holds the current zap.Logger instance used across the app.
	log *zap.Logger
	// logLevel controls the dynamic log level without rebuilding the core.
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	// encoderCfg holds the message formatting config, updated on Init.
	encoderCfg = defaultEncoderConfig()
	// stdoutWriter is the standard-output destination for logs.
	stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	// stderrWriter is the destination for the logger's own error output.
	stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
)

// defaultEncoderConfig builds a console encoder with colors and a short
// caller. Time format is fixed (YYYY-MM-DD HH:MM:SS); switch to a JSON
// encoder if machine-parseable output is ever needed.
func defaultEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// rebuildLoggerLocked rebuilds the global logger from the current stream and
// level settings. Caller must already hold mu. AddCallerSkip(1) hides the
// logger.* wrapper frames from the call stack. The previous logger, if any,
// is synced before being replaced.
func rebuildLoggerLocked() {
	encoder := zapcore.NewConsoleEncoder(encoderCfg)
	core := zapcore.NewCore(encoder, stdoutWriter, logLevel)
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(stderrWriter))
}

// Init initializes the global zap logger and sets its level.
// Valid levels: debug, info (default), warn, error, compared case-insensitively.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(level) {
	case "debug":
		logLevel.SetLevel(zap.DebugLevel)
	case "warn":
		logLevel.SetLevel(zap.WarnLevel)
	case "error":
		logLevel.SetLevel(zap.ErrorLevel)
	default:
		logLevel.SetLevel(zap.InfoLevel)
	}

	encoderCfg = defaultEncoderConfig()
	rebuildLoggerLocked()
}

// SetWriters repoints the logger's output streams and rebuilds the core.
// Safe to call at runtime. A nil argument falls back to the OS default
// stdout/stderr.
func SetWriters(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if stdout == nil {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	} else {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(stdout))
	}
	if stderr == nil {
		stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	} else {
		stderrWriter = zapcore.Lock(zapcore.AddSync(stderr))
	}

	rebuildLoggerLocked()
}

// Logger returns the current zap.Logger, lazily building it on first use.
// This returns the raw (non-sugared) API; prefer structured zap.Field args.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if log == nil {
		rebuildLoggerLocked()
	}
	return log
}

// IsDebugEnabled reports whether the debug level is currently enabled.
func IsDebugEnabled() bool {
	return Logger().Level() <= zap.DebugLevel
}

// Debug writes a structured Debug-level message.
func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }

// Info writes a structured Info-level message.
func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

// Warn writes a structured Warn-level message.
func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

// Error writes a structured Error-level message.
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal writes a structured Fatal-level message and terminates the process.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
	_ = Logger().Sync() // flush buffers before os.Exit
	os.Exit(1)
}

// Debugf formats via fmt.Sprintf. Allocates on every call; prefer Debug with
// structured fields on hot paths.
func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }

// Infof formats via fmt.Sprintf. Prefer Info with fields on hot paths.
func Infof(msg string, a ...any) { Logger().Info(fmt.Sprintf(msg, a...)) }

// Warnf formats via fmt.Sprintf.
func Warnf(msg string, a ...any) { Logger().Warn(fmt.Sprintf(msg, a...)) }

// Errorf formats via fmt.Sprintf. Prefer Error with fields in critical paths.
func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
