package cli

import (
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// setupLogger builds the process logger. Console output goes to stderr as
// text; when logFile is set, JSON logs additionally go there through a
// rotating writer.
func setupLogger(verbose bool, logFile string) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	if logFile == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	rotating := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
	}
	return slog.New(slog.NewJSONHandler(rotating, &slog.HandlerOptions{Level: level}))
}
