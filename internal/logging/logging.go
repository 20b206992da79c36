// Package logging is the ambient structured-logging setup every other
// package takes a zerolog.Logger from. Grounded on the teacher's singleton
// FileLogger (internal/cli/ui/ui.go: GetLogger/sync.Once, a buffered
// timestamped file under an app-data "logs" directory) and its scattered
// plain log.Printf call sites elsewhere (internal/driver/device/*.go,
// cmd/driver/*/main.go) — kept as the same two-sink shape (console +
// per-run file) but backed by github.com/rs/zerolog so every call site can
// attach structured fields (device_id, op, request_id) instead of
// interpolating them into a format string, which matters once several
// Worker goroutines are logging concurrently.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	global zerolog.Logger
)

// Options configures the two sinks. Console is meant for an interactive
// terminal run of cmd/keepkeyd; FileDir, when non-empty, additionally writes
// newline-delimited JSON to a per-run log file, the way the teacher's
// FileLogger timestamps one file per CLI invocation.
type Options struct {
	Level   string // "debug", "info", "warn", "error"; defaults to "info"
	Console bool
	FileDir string // directory the per-run log file is created under
}

// Init configures the package-level singleton logger exactly once; later
// calls are no-ops, matching the teacher's loggerOnce.Do shape. Safe to
// call with zero-value Options, which yields an info-level console logger.
func Init(opts Options) {
	once.Do(func() {
		global = build(opts)
	})
}

// Get returns the singleton logger, initializing it with defaults on first
// use if Init was never called (so unit tests and small tools don't need
// to call Init explicitly).
func Get() zerolog.Logger {
	once.Do(func() {
		global = build(Options{Console: true, Level: "info"})
	})
	return global
}

func build(opts Options) zerolog.Logger {
	level := parseLevel(opts.Level)
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if opts.Console || opts.FileDir == "" {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	if opts.FileDir != "" {
		if f, err := openRunLogFile(opts.FileDir); err == nil {
			writers = append(writers, f)
		} else {
			fmt.Fprintf(os.Stderr, "logging: could not open log file: %v\n", err)
		}
	}

	var out io.Writer = zerolog.MultiLevelWriter(writers...)
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func openRunLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("keepkeyd_%s.log", time.Now().Format("20060102_150405"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
