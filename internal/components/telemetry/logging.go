package telemetry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// LogFiles names the sinks under the logs directory.
type LogFiles struct {
	Combined string
	Errors   string
	Run      string
}

// DefaultLogFiles returns scraper.log, errors.log and run-<runDate>.log.
func DefaultLogFiles(runDate string) LogFiles {
	return LogFiles{
		Combined: "scraper.log",
		Errors:   "errors.log",
		Run:      fmt.Sprintf("run-%s.log", runDate),
	}
}

// ParseLevel accepts debug, info, warn and error, anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger fans logs out to human readable stderr and to the JSON files in
// dir: the combined log at level, the error log at error and the per-run log at
// debug. If dir cannot be used the logger falls back to stderr only.
func SetupLogger(dir string, files LogFiles, level slog.Level) (*slog.Logger, func() error) {
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		slog.Error("failed to create log dir, using stderr only", "err", err, "dir", dir)
		return slog.New(stderrHandler), func() error { return nil }
	}

	sinks := []struct {
		name  string
		level slog.Level
	}{
		{name: files.Combined, level: level},
		{name: files.Errors, level: slog.LevelError},
		{name: files.Run, level: slog.LevelDebug},
	}

	handlers := []slog.Handler{stderrHandler}
	var closers []io.Closer
	for _, sink := range sinks {
		if sink.name == "" {
			continue
		}
		path := filepath.Join(dir, sink.name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			slog.Error("failed to open log file, skipping", "err", err, "file", path)
			continue
		}
		closers = append(closers, f)
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: sink.level}))
	}

	cleanup := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		return errors.Join(errs...)
	}
	return slog.New(slogmulti.Fanout(handlers...)), cleanup
}

// SetupLoggerWithWriters is SetupLogger over arbitrary writers, for tests.
func SetupLoggerWithWriters(stderr, combined, errs io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}),
		slog.NewJSONHandler(combined, &slog.HandlerOptions{Level: level}),
		slog.NewJSONHandler(errs, &slog.HandlerOptions{Level: slog.LevelError}),
	))
}
