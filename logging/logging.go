// Package logging builds the process-wide slog logger.
package logging

import (
	"log/slog"
	"os"
)

// New returns a logger writing to f: human-readable text on a terminal,
// JSON otherwise. The returned LevelVar can be adjusted at runtime.
func New(verbose bool, f *os.File) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(f) {
		handler = slog.NewTextHandler(f, opts)
	} else {
		handler = slog.NewJSONHandler(f, opts)
	}

	return slog.New(handler), level
}

// Install makes logger the default for both slog and the log package.
func Install(logger *slog.Logger, level *slog.LevelVar) {
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
