package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the process-wide structured logger. cmd/dispatchd calls Init or
// InitWithConfig once at startup; every package in this module logs through
// this handle rather than constructing its own.
var Log *slog.Logger

// Config controls the logger's level, encoding, and output destination.
type Config struct {
	Level      string
	Format     string // json, text
	Output     string // stdout, stderr, file
	FilePath   string
	MaxSize    int // MB
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// Init sets up a JSON logger writing to stdout at the given level; tests
// use it where no full Config is at hand (cmd/dispatchd uses InitWithConfig).
func Init(level string) {
	InitWithConfig(Config{
		Level:  level,
		Format: "json",
		Output: "stdout",
	})
}

// InitWithConfig builds Log from a fully-specified Config, normally sourced
// from the logging section of this module's pkg/config.Config.
func InitWithConfig(cfg Config) {
	var lvl slog.Level
	switch cfg.Level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	// Pick the destination writer.
	var writer io.Writer
	switch cfg.Output {
	case "stderr":
		writer = os.Stderr
	case "file":
		if cfg.FilePath == "" {
			cfg.FilePath = "logs/dispatchd.log"
		}
		// dispatchd runs as a long-lived daemon, so the log directory may
		// not exist yet on first boot.
		dir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			writer = os.Stdout
		} else {
			// lumberjack handles rotation; a daemon that never restarts
			// would otherwise grow this file unbounded.
			writer = &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
		}
	default:
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	Log = slog.New(handler)
}

// WithContext attaches arbitrary key/value pairs to a child logger; ctx is
// accepted for call-site symmetry with context-aware logging helpers
// elsewhere in this module but isn't inspected here — correlation data
// comes from the explicit args, not from context values.
func WithContext(ctx context.Context, args ...any) *slog.Logger {
	return Log.With(args...)
}

// WithRequestID tags a child logger with an inbound request's ID.
func WithRequestID(requestID string) *slog.Logger {
	return Log.With("request_id", requestID)
}

// WithService tags a child logger with a service name, for deployments that
// run more than one binary sharing this package.
func WithService(service string) *slog.Logger {
	return Log.With("service", service)
}

// WithEngine tags a child logger with the orchestrator engine name
// ("assignment", "optimize", "escalation", ...) driving the current tick,
// so log lines can be filtered per engine without grepping message text.
// The orchestrator does not call it; it passes "engine" as a plain log
// attribute.
func WithEngine(engine string) *slog.Logger {
	return Log.With("engine", engine)
}

// WithOrderID tags a child logger with an order ID, for the assignment and
// escalation flows that need every log line for one order traceable across
// retries and reassignments.
func WithOrderID(orderID string) *slog.Logger {
	return Log.With("order_id", orderID)
}

// WithDriverID tags a child logger with a driver ID, mirroring WithOrderID
// for the driver side of an assignment.
func WithDriverID(driverID string) *slog.Logger {
	return Log.With("driver_id", driverID)
}

// Debug logs at debug level through the package-level Log.
func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

// Info logs at info level through the package-level Log.
func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

// Warn logs at warn level through the package-level Log.
func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

// Error logs at error level through the package-level Log.
func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}

// Fatal logs at error level and terminates the process — reserved for
// startup failures (bad config, unreachable store) where continuing would
// leave dispatchd serving traffic it can't actually handle.
func Fatal(msg string, args ...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}
